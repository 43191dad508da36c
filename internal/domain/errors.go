/**
 * @description
 * Error taxonomy shared by the store, application and HTTP layers. Sentinels are
 * matched with errors.Is; the typed errors carry the offending field or resource
 * and unwrap to their sentinel.
 */

package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrLimitExceeded     = errors.New("credit limit exceeded")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrOverpayment       = errors.New("payment exceeds outstanding debt")
	ErrConflict          = errors.New("concurrent modification conflict")
	ErrStorage           = errors.New("storage failure")
	ErrInstrumentInUse   = errors.New("instrument is referenced by transactions")
	ErrEmailTaken        = errors.New("email already registered")
	ErrPhoneTaken        = errors.New("phone number already in use")
	ErrUnauthorized      = errors.New("unauthorized")
)

// ValidationError reports a malformed or missing request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a ValidationError for field.
func Invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports a resource that is absent or owned by someone else.
// The two cases are deliberately indistinguishable to callers.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NotFound builds a NotFoundError.
func NotFound(resource string, id fmt.Stringer) error {
	return &NotFoundError{Resource: resource, ID: id.String()}
}

// IsBusinessRule reports whether err is a rejected posting precondition.
func IsBusinessRule(err error) bool {
	return errors.Is(err, ErrLimitExceeded) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrOverpayment)
}

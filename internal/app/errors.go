package app

import (
	"errors"

	"github.com/nfinance/finance-service/internal/domain"
)

// isClientError reports whether err is the caller's to correct, as opposed to
// a storage or programming failure.
func isClientError(err error) bool {
	return errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrConflict) ||
		errors.Is(err, domain.ErrInstrumentInUse) ||
		errors.Is(err, domain.ErrEmailTaken) ||
		errors.Is(err, domain.ErrPhoneTaken) ||
		domain.IsBusinessRule(err)
}

/**
 * @description
 * Transaction records and the validated intent the posting engine consumes.
 *
 * @notes
 * - Amounts are shopspring decimals with at most two fractional digits; they
 *   serialise as JSON strings so no precision is lost in transit.
 * - Seq is the ledger insertion order and breaks ties between equal dates.
 */

package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType is income, expense or transfer.
type TransactionType string

const (
	TypeIncome   TransactionType = "income"
	TypeExpense  TransactionType = "expense"
	TypeTransfer TransactionType = "transfer"
)

// ParseTransactionType normalises and validates a type string.
func ParseTransactionType(raw string) (TransactionType, error) {
	t := TransactionType(strings.ToLower(strings.TrimSpace(raw)))
	switch t {
	case TypeIncome, TypeExpense, TypeTransfer:
		return t, nil
	case "":
		return "", Invalid("type", "is required")
	}
	return "", Invalid("type", "must be one of income, expense, transfer")
}

// TransferTypeCreditCardPayment marks transfers created by the pay endpoint.
const TransferTypeCreditCardPayment = "credit_card_payment"

// Transaction is one ledger record.
type Transaction struct {
	ID           uuid.UUID       `json:"id"`
	OwnerID      uuid.UUID       `json:"userId"`
	Type         TransactionType `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	Date         time.Time       `json:"date"`
	Description  string          `json:"description"`
	Category     string          `json:"category"`
	Source       *InstrumentRef  `json:"source,omitempty"`
	Destination  *InstrumentRef  `json:"destination,omitempty"`
	TransferType string          `json:"transferType,omitempty"`
	Seq          int64           `json:"-"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// Refs returns the instruments the transaction touches.
func (t Transaction) Refs() []InstrumentRef {
	refs := make([]InstrumentRef, 0, 2)
	if t.Source != nil {
		refs = append(refs, *t.Source)
	}
	if t.Destination != nil {
		refs = append(refs, *t.Destination)
	}
	return refs
}

// References reports whether the transaction touches ref.
func (t Transaction) References(ref InstrumentRef) bool {
	return (t.Source != nil && *t.Source == ref) || (t.Destination != nil && *t.Destination == ref)
}

// TransactionIntent is a create or full-replace request after parsing.
type TransactionIntent struct {
	Type         TransactionType
	Amount       decimal.Decimal
	Date         time.Time
	Description  string
	Category     string
	Source       *InstrumentRef
	Destination  *InstrumentRef
	TransferType string
}

// Validate checks the shape rules that need no storage access.
func (in TransactionIntent) Validate() error {
	switch in.Type {
	case TypeIncome, TypeExpense, TypeTransfer:
	default:
		return Invalid("type", "must be one of income, expense, transfer")
	}
	if err := CheckPositive("amount", in.Amount); err != nil {
		return err
	}
	if in.Date.IsZero() {
		return Invalid("date", "is required")
	}

	switch in.Type {
	case TypeIncome:
		if in.Destination == nil {
			return Invalid("destinationInstrumentId", "is required for income")
		}
	case TypeExpense:
		if in.Source == nil {
			return Invalid("sourceInstrumentId", "is required for expense")
		}
	case TypeTransfer:
		if in.Source == nil {
			return Invalid("sourceInstrumentId", "is required for transfer")
		}
		if in.Destination == nil {
			return Invalid("destinationInstrumentId", "is required for transfer")
		}
		if *in.Source == *in.Destination {
			return Invalid("destinationInstrumentId", "must differ from the source")
		}
	}
	if in.TransferType != "" && in.Type != TypeTransfer {
		return Invalid("transferType", "is only allowed for transfers")
	}
	return nil
}

// Apply copies the intent's fields onto t. The reference a type does not use
// (source for income, destination for expense) is dropped.
func (in TransactionIntent) Apply(t *Transaction) {
	t.Type = in.Type
	t.Amount = in.Amount.Round(MoneyScale)
	t.Date = in.Date.UTC()
	t.Description = strings.TrimSpace(in.Description)
	t.Category = strings.TrimSpace(in.Category)
	t.Source = cloneRef(in.Source)
	t.Destination = cloneRef(in.Destination)
	switch in.Type {
	case TypeIncome:
		t.Source = nil
	case TypeExpense:
		t.Destination = nil
	}
	t.TransferType = strings.TrimSpace(in.TransferType)
}

func cloneRef(r *InstrumentRef) *InstrumentRef {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// ParseDate accepts RFC 3339 timestamps and plain YYYY-MM-DD dates.
func ParseDate(field, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, Invalid(field, "is required")
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, Invalid(field, "must be an RFC 3339 timestamp or YYYY-MM-DD date")
}

const (
	DefaultListLimit = 100
	MaxListLimit     = 500
)

// TransactionFilter narrows a ledger listing.
type TransactionFilter struct {
	Type       TransactionType
	Instrument *InstrumentRef
	Category   string
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}

// Normalize clamps paging values.
func (f TransactionFilter) Normalize() TransactionFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Matches reports whether t satisfies every set filter field.
func (f TransactionFilter) Matches(t Transaction) bool {
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if f.Instrument != nil && !t.References(*f.Instrument) {
		return false
	}
	if f.Category != "" && t.Category != f.Category {
		return false
	}
	if f.From != nil && t.Date.Before(*f.From) {
		return false
	}
	if end, exclusive, ok := f.EndBound(); ok {
		if exclusive && !t.Date.Before(end) {
			return false
		}
		if !exclusive && t.Date.After(end) {
			return false
		}
	}
	return true
}

// EndBound returns the upper date bound. A To at midnight UTC names a whole
// day, so it becomes an exclusive bound at the following midnight.
func (f TransactionFilter) EndBound() (end time.Time, exclusive, ok bool) {
	if f.To == nil {
		return time.Time{}, false, false
	}
	to := f.To.UTC()
	if to.Equal(to.Truncate(24 * time.Hour)) {
		return to.Add(24 * time.Hour), true, true
	}
	return to, false, true
}

// PostingResult is returned by every posting operation.
type PostingResult struct {
	Transaction Transaction         `json:"transaction"`
	Instruments []InstrumentSummary `json:"instruments"`
}

/**
 * @description
 * Instrument models. Bank accounts, credit cards and loans share one record
 * shape; the kind decides which balance field postings move and in which
 * direction. Credit cards and loans are liabilities: their tracked value is the
 * outstanding debt, bounded by the credit limit or loan principal.
 *
 * @notes
 * - InstrumentRef is the tagged union stored on every transaction. Reversals
 *   always dispatch on the stored kind, never on a fresh lookup.
 */

package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InstrumentKind names one of the instrument tables.
type InstrumentKind string

const (
	KindBankAccount InstrumentKind = "bank_account"
	KindCreditCard  InstrumentKind = "credit_card"
	KindLoan        InstrumentKind = "loan"
)

// InstrumentKinds lists every kind in lock order.
var InstrumentKinds = []InstrumentKind{KindBankAccount, KindCreditCard, KindLoan}

// ParseInstrumentKind accepts the canonical kind names plus the camelCase and
// short aliases older clients send.
func ParseInstrumentKind(raw string) (InstrumentKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "bank_account", "bankaccount", "bank":
		return KindBankAccount, nil
	case "credit_card", "creditcard", "card":
		return KindCreditCard, nil
	case "loan":
		return KindLoan, nil
	}
	return "", Invalid("kind", "unknown instrument kind %q", raw)
}

// IsLiability reports whether the kind tracks debt instead of a balance.
func (k InstrumentKind) IsLiability() bool {
	return k == KindCreditCard || k == KindLoan
}

// Field returns the balance column postings move for this kind.
func (k InstrumentKind) Field() BalanceField {
	if k.IsLiability() {
		return FieldCurrentDebt
	}
	return FieldBalance
}

func (k InstrumentKind) String() string { return string(k) }

// BalanceField is the mutable money column on an instrument.
type BalanceField string

const (
	FieldBalance     BalanceField = "balance"
	FieldCurrentDebt BalanceField = "current_debt"
)

// InstrumentRef points at one instrument of a given kind.
type InstrumentRef struct {
	Kind InstrumentKind `json:"kind"`
	ID   uuid.UUID      `json:"id"`
}

func (r InstrumentRef) String() string {
	return string(r.Kind) + ":" + r.ID.String()
}

// Less orders refs by kind then id. Locks are always taken in this order.
func (r InstrumentRef) Less(o InstrumentRef) bool {
	if r.Kind != o.Kind {
		return kindRank(r.Kind) < kindRank(o.Kind)
	}
	return strings.Compare(r.ID.String(), o.ID.String()) < 0
}

func kindRank(k InstrumentKind) int {
	for i, kind := range InstrumentKinds {
		if kind == k {
			return i
		}
	}
	return len(InstrumentKinds)
}

// Instrument is a bank account, credit card or loan.
type Instrument struct {
	Kind     InstrumentKind
	ID       uuid.UUID
	OwnerID  uuid.UUID
	Name     string
	Currency string

	// Balance is used by bank accounts.
	Balance decimal.Decimal
	// CurrentDebt and Limit are used by liabilities. Limit is the credit
	// limit of a card or the principal of a loan.
	CurrentDebt decimal.Decimal
	Limit       decimal.Decimal
	// Opening is the balance or debt the instrument was created with.
	Opening decimal.Decimal

	InterestRate decimal.Decimal
	TermMonths   int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Ref returns the instrument's tagged reference.
func (i Instrument) Ref() InstrumentRef {
	return InstrumentRef{Kind: i.Kind, ID: i.ID}
}

// Value returns the field postings move.
func (i Instrument) Value(field BalanceField) decimal.Decimal {
	if field == FieldCurrentDebt {
		return i.CurrentDebt
	}
	return i.Balance
}

// AvailableLimit is Limit minus CurrentDebt for liabilities.
func (i Instrument) AvailableLimit() decimal.Decimal {
	return i.Limit.Sub(i.CurrentDebt)
}

// CheckDelta validates that adding delta to field keeps the instrument within
// its bounds. Only the bound the delta moves towards is checked. It returns
// the business-rule sentinel that describes the breach, or a validation
// error when the result would not fit a stored amount.
func (i Instrument) CheckDelta(field BalanceField, delta decimal.Decimal) error {
	next := i.Value(field).Add(delta)
	switch {
	case next.Abs().GreaterThanOrEqual(MaxAmount):
		return Invalid("amount", "would move %s out of range", field)
	case field == FieldBalance && delta.IsNegative() && next.IsNegative():
		return ErrInsufficientFunds
	case field == FieldCurrentDebt && delta.IsPositive() && next.GreaterThan(i.Limit):
		return ErrLimitExceeded
	case field == FieldCurrentDebt && delta.IsNegative() && next.IsNegative():
		return ErrOverpayment
	}
	return nil
}

// InstrumentSummary is the post-posting view returned to callers.
type InstrumentSummary struct {
	Kind           InstrumentKind   `json:"kind"`
	ID             uuid.UUID        `json:"id"`
	Name           string           `json:"name"`
	Currency       string           `json:"currency"`
	Balance        *decimal.Decimal `json:"balance,omitempty"`
	CurrentDebt    *decimal.Decimal `json:"currentDebt,omitempty"`
	CreditLimit    *decimal.Decimal `json:"creditLimit,omitempty"`
	Principal      *decimal.Decimal `json:"principal,omitempty"`
	AvailableLimit *decimal.Decimal `json:"availableLimit,omitempty"`
	Display        string           `json:"display"`
}

// Summary builds the caller-facing view of the instrument.
func (i Instrument) Summary() InstrumentSummary {
	s := InstrumentSummary{Kind: i.Kind, ID: i.ID, Name: i.Name, Currency: i.Currency}
	switch i.Kind {
	case KindBankAccount:
		balance := i.Balance
		s.Balance = &balance
		s.Display = FormatAmount(balance, i.Currency)
	case KindCreditCard:
		debt, limit, available := i.CurrentDebt, i.Limit, i.AvailableLimit()
		s.CurrentDebt, s.CreditLimit, s.AvailableLimit = &debt, &limit, &available
		s.Display = FormatAmount(debt, i.Currency)
	case KindLoan:
		debt, principal := i.CurrentDebt, i.Limit
		s.CurrentDebt, s.Principal = &debt, &principal
		s.Display = FormatAmount(debt, i.Currency)
	}
	return s
}

// InstrumentDetails carries the mutable descriptive fields of an instrument.
// Nil fields are left unchanged.
type InstrumentDetails struct {
	Name         *string
	Limit        *decimal.Decimal
	InterestRate *decimal.Decimal
	TermMonths   *int
}

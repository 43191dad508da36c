/**
 * @description
 * This file defines the data access contracts for the finance service. Every
 * read and write runs inside a unit of work obtained from Store; the posting
 * engine relies on WithinTx to make instrument deltas and the ledger write
 * succeed or fail together.
 *
 * @dependencies
 * - internal/domain: Domain models and error sentinels.
 */

package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/nfinance/finance-service/internal/domain"
	"github.com/shopspring/decimal"
)

// Store opens units of work against the backing database.
type Store interface {
	// WithinTx runs fn in a read-write unit of work. Returning an error from
	// fn discards every write fn made. Serialization conflicts are retried
	// up to the configured bound and then surface as domain.ErrConflict.
	WithinTx(ctx context.Context, fn func(Tx) error) error
	// ReadOnly runs fn against a consistent snapshot.
	ReadOnly(ctx context.Context, fn func(Tx) error) error
	// Migrate creates the schema if it does not exist.
	Migrate(ctx context.Context) error
	Close()
}

// Tx is the set of repositories bound to one unit of work.
type Tx interface {
	Instruments(kind domain.InstrumentKind) InstrumentStore
	Ledger() Ledger
	Users() UserStore
}

// InstrumentStore is the per-kind instrument capability.
type InstrumentStore interface {
	Get(ctx context.Context, id, ownerID uuid.UUID) (domain.Instrument, error)
	// Lock reads the instrument and holds a row lock until the unit of work ends.
	Lock(ctx context.Context, id, ownerID uuid.UUID) (domain.Instrument, error)
	// ApplyDelta adds delta to field. The result is bounds-checked before
	// anything is written.
	ApplyDelta(ctx context.Context, id uuid.UUID, field domain.BalanceField, delta decimal.Decimal) (domain.Instrument, error)
	Create(ctx context.Context, inst domain.Instrument) (domain.Instrument, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.Instrument, error)
	ListAll(ctx context.Context) ([]domain.Instrument, error)
	UpdateDetails(ctx context.Context, id, ownerID uuid.UUID, details domain.InstrumentDetails) (domain.Instrument, error)
	Delete(ctx context.Context, id, ownerID uuid.UUID) error
}

// Ledger stores transaction records. It holds no business rules.
type Ledger interface {
	Create(ctx context.Context, t domain.Transaction) (domain.Transaction, error)
	Get(ctx context.Context, id, ownerID uuid.UUID) (domain.Transaction, error)
	Lock(ctx context.Context, id, ownerID uuid.UUID) (domain.Transaction, error)
	List(ctx context.Context, ownerID uuid.UUID, filter domain.TransactionFilter) ([]domain.Transaction, error)
	Update(ctx context.Context, t domain.Transaction) (domain.Transaction, error)
	Delete(ctx context.Context, id, ownerID uuid.UUID) error
	CountByInstrument(ctx context.Context, ref domain.InstrumentRef, ownerID uuid.UUID) (int, error)
	// Totals sums the amounts flowing into and out of ref.
	Totals(ctx context.Context, ref domain.InstrumentRef, ownerID uuid.UUID) (in, out decimal.Decimal, err error)
}

// UserStore persists registered users.
type UserStore interface {
	Create(ctx context.Context, u domain.User) (domain.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (domain.User, error)
	Update(ctx context.Context, u domain.User) (domain.User, error)
	PhoneInUse(ctx context.Context, phone string, excludeID uuid.UUID) (bool, error)
}

func resourceName(kind domain.InstrumentKind) string {
	switch kind {
	case domain.KindBankAccount:
		return "bank account"
	case domain.KindCreditCard:
		return "credit card"
	case domain.KindLoan:
		return "loan"
	}
	return "instrument"
}

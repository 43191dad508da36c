/**
 * @description
 * The posting engine. It turns a transaction intent into one ledger record
 * plus the instrument balance changes that record implies, inside a single
 * unit of work. Create, update, delete and card payments all go through the
 * shared post function so reversal is always the exact inverse of creation.
 *
 * @dependencies
 * - internal/store: Unit of work, instrument and ledger repositories.
 * - github.com/shopspring/decimal: Exact money arithmetic.
 *
 * @notes
 * - Instruments are locked in InstrumentRef order to avoid lock-order deadlocks.
 * - Updates net reverse(old) and forward(new) per instrument before checking
 *   bounds, so a change that is valid in its final state cannot fail on an
 *   intermediate one.
 */

package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nfinance/finance-service/internal/domain"
	"github.com/nfinance/finance-service/internal/store"
	"github.com/shopspring/decimal"
)

// PostingEngine owns every write to instrument balances.
type PostingEngine struct {
	store  store.Store
	events *eventEmitter
	logger *slog.Logger
	now    func() time.Time
}

// NewPostingEngine creates a posting engine. publisher may be nil.
func NewPostingEngine(st store.Store, publisher EventPublisher, exchange string, logger *slog.Logger) *PostingEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostingEngine{
		store:  st,
		events: &eventEmitter{publisher: publisher, exchange: exchange, logger: logger},
		logger: logger,
		now:    time.Now,
	}
}

// Create validates and posts a new transaction.
func (e *PostingEngine) Create(ctx context.Context, ownerID uuid.UUID, in domain.TransactionIntent) (domain.PostingResult, error) {
	if err := in.Validate(); err != nil {
		return domain.PostingResult{}, err
	}

	var result domain.PostingResult
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		next := domain.Transaction{ID: uuid.New(), OwnerID: ownerID}
		in.Apply(&next)

		summaries, err := post(ctx, tx, ownerID, nil, &next)
		if err != nil {
			return err
		}
		created, err := tx.Ledger().Create(ctx, next)
		if err != nil {
			return err
		}
		result = domain.PostingResult{Transaction: created, Instruments: summaries}
		return nil
	})
	if err != nil {
		e.logRejected("create", ownerID, uuid.Nil, err)
		return domain.PostingResult{}, err
	}

	e.logger.Info("transaction posted",
		"owner_id", ownerID,
		"transaction_id", result.Transaction.ID,
		"type", result.Transaction.Type,
		"amount", result.Transaction.Amount.String(),
	)
	e.events.emit(ctx, EventTransactionCreated, result.Transaction)
	return result, nil
}

// Update replaces every field of an existing transaction. The old effects
// are reversed and the new ones applied in the same unit of work.
func (e *PostingEngine) Update(ctx context.Context, ownerID, id uuid.UUID, in domain.TransactionIntent) (domain.PostingResult, error) {
	if err := in.Validate(); err != nil {
		return domain.PostingResult{}, err
	}

	var result domain.PostingResult
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		old, err := tx.Ledger().Lock(ctx, id, ownerID)
		if err != nil {
			return err
		}
		next := old
		in.Apply(&next)

		summaries, err := post(ctx, tx, ownerID, &old, &next)
		if err != nil {
			return err
		}
		updated, err := tx.Ledger().Update(ctx, next)
		if err != nil {
			return err
		}
		result = domain.PostingResult{Transaction: updated, Instruments: summaries}
		return nil
	})
	if err != nil {
		e.logRejected("update", ownerID, id, err)
		return domain.PostingResult{}, err
	}

	e.logger.Info("transaction updated",
		"owner_id", ownerID,
		"transaction_id", id,
		"amount", result.Transaction.Amount.String(),
	)
	e.events.emit(ctx, EventTransactionUpdated, result.Transaction)
	return result, nil
}

// Delete reverses a transaction's effects and removes the record. The
// reversal is bounds-checked like any posting, so deleting income that later
// postings already spent fails and leaves both in place. The returned result
// carries the removed record and the restored instruments.
func (e *PostingEngine) Delete(ctx context.Context, ownerID, id uuid.UUID) (domain.PostingResult, error) {
	var result domain.PostingResult
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		old, err := tx.Ledger().Lock(ctx, id, ownerID)
		if err != nil {
			return err
		}
		summaries, err := post(ctx, tx, ownerID, &old, nil)
		if err != nil {
			return err
		}
		if err := tx.Ledger().Delete(ctx, id, ownerID); err != nil {
			return err
		}
		result = domain.PostingResult{Transaction: old, Instruments: summaries}
		return nil
	})
	if err != nil {
		e.logRejected("delete", ownerID, id, err)
		return domain.PostingResult{}, err
	}

	e.logger.Info("transaction deleted", "owner_id", ownerID, "transaction_id", id)
	e.events.emit(ctx, EventTransactionDeleted, result.Transaction)
	return result, nil
}

// Get returns one transaction owned by ownerID.
func (e *PostingEngine) Get(ctx context.Context, ownerID, id uuid.UUID) (domain.Transaction, error) {
	var t domain.Transaction
	err := e.store.ReadOnly(ctx, func(tx store.Tx) error {
		var err error
		t, err = tx.Ledger().Get(ctx, id, ownerID)
		return err
	})
	return t, err
}

// List returns ownerID's transactions, newest first.
func (e *PostingEngine) List(ctx context.Context, ownerID uuid.UUID, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	var out []domain.Transaction
	err := e.store.ReadOnly(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.Ledger().List(ctx, ownerID, filter.Normalize())
		return err
	})
	return out, err
}

// CardPayment is a request to pay down a credit card.
type CardPayment struct {
	Amount        decimal.Decimal
	BankAccountID *uuid.UUID
	Date          time.Time
	Description   string
}

// PayCreditCard reduces a card's debt. With a bank account it posts a
// transfer from that account; without one it posts income into the card.
func (e *PostingEngine) PayCreditCard(ctx context.Context, ownerID, cardID uuid.UUID, p CardPayment) (domain.PostingResult, error) {
	if err := domain.CheckPositive("amount", p.Amount); err != nil {
		return domain.PostingResult{}, err
	}
	date := p.Date
	if date.IsZero() {
		date = e.now().UTC()
	}

	var result domain.PostingResult
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		card, err := tx.Instruments(domain.KindCreditCard).Get(ctx, cardID, ownerID)
		if err != nil {
			return err
		}
		description := strings.TrimSpace(p.Description)
		if description == "" {
			description = "Credit card payment: " + card.Name
		}

		in := domain.TransactionIntent{
			Type:        domain.TypeIncome,
			Amount:      p.Amount,
			Date:        date,
			Description: description,
			Category:    domain.TransferTypeCreditCardPayment,
			Destination: &domain.InstrumentRef{Kind: domain.KindCreditCard, ID: cardID},
		}
		if p.BankAccountID != nil {
			in.Type = domain.TypeTransfer
			in.Source = &domain.InstrumentRef{Kind: domain.KindBankAccount, ID: *p.BankAccountID}
			in.TransferType = domain.TransferTypeCreditCardPayment
		}
		if err := in.Validate(); err != nil {
			return err
		}

		next := domain.Transaction{ID: uuid.New(), OwnerID: ownerID}
		in.Apply(&next)
		summaries, err := post(ctx, tx, ownerID, nil, &next)
		if err != nil {
			return err
		}
		created, err := tx.Ledger().Create(ctx, next)
		if err != nil {
			return err
		}
		result = domain.PostingResult{Transaction: created, Instruments: summaries}
		return nil
	})
	if err != nil {
		e.logRejected("pay_credit_card", ownerID, cardID, err)
		return domain.PostingResult{}, err
	}

	e.logger.Info("credit card paid",
		"owner_id", ownerID,
		"card_id", cardID,
		"amount", p.Amount.String(),
		"from_bank_account", p.BankAccountID != nil,
	)
	e.events.emit(ctx, EventCreditCardPaid, result.Transaction)
	return result, nil
}

func (e *PostingEngine) logRejected(op string, ownerID, id uuid.UUID, err error) {
	level := slog.LevelWarn
	if !isClientError(err) {
		level = slog.LevelError
	}
	e.logger.Log(context.Background(), level, "posting rejected",
		"op", op,
		"owner_id", ownerID,
		"id", id,
		"error", err,
	)
}

// post applies the difference between old and next to every instrument they
// touch. Either may be nil: create passes no old record, delete passes no
// next record. Every instrument is locked and ownership-checked, every delta
// is bounds-checked, and only then are deltas written.
func post(ctx context.Context, tx store.Tx, ownerID uuid.UUID, old, next *domain.Transaction) ([]domain.InstrumentSummary, error) {
	postings := netPostings(reverseEffects(old), forwardEffects(next))

	locked := make(map[domain.InstrumentRef]domain.Instrument, len(postings))
	for _, p := range postings {
		inst, err := tx.Instruments(p.ref.Kind).Lock(ctx, p.ref.ID, ownerID)
		if err != nil {
			return nil, err
		}
		locked[p.ref] = inst
	}

	if next != nil && next.Source != nil && next.Destination != nil {
		src, dst := locked[*next.Source], locked[*next.Destination]
		if src.Currency != dst.Currency {
			return nil, domain.Invalid("destinationInstrumentId",
				"currency %s does not match source currency %s", dst.Currency, src.Currency)
		}
	}

	for _, p := range postings {
		inst := locked[p.ref]
		if err := inst.CheckDelta(p.ref.Kind.Field(), p.delta); err != nil {
			return nil, fmt.Errorf("%w: %s %s", err, strings.ReplaceAll(string(p.ref.Kind), "_", " "), p.ref.ID)
		}
	}

	summaries := make([]domain.InstrumentSummary, 0, len(postings))
	for _, p := range postings {
		inst := locked[p.ref]
		if !p.delta.IsZero() {
			updated, err := tx.Instruments(p.ref.Kind).ApplyDelta(ctx, p.ref.ID, p.ref.Kind.Field(), p.delta)
			if err != nil {
				return nil, err
			}
			inst = updated
		}
		summaries = append(summaries, inst.Summary())
	}
	return summaries, nil
}

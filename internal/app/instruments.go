package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/nfinance/finance-service/internal/domain"
	"github.com/nfinance/finance-service/internal/store"
	"github.com/shopspring/decimal"
)

const maxNameLength = 100

// InstrumentService manages bank accounts, credit cards and loans. Balances
// and debts are only ever set at creation; afterwards the posting engine is
// their sole writer.
type InstrumentService struct {
	store           store.Store
	defaultCurrency string
	logger          *slog.Logger
}

// NewInstrumentService creates an InstrumentService.
func NewInstrumentService(st store.Store, defaultCurrency string, logger *slog.Logger) *InstrumentService {
	if logger == nil {
		logger = slog.Default()
	}
	return &InstrumentService{store: st, defaultCurrency: defaultCurrency, logger: logger}
}

// NewInstrument describes an instrument to open. Opening is the initial bank
// balance or outstanding debt; when nil it defaults to zero, or to the full
// principal for loans.
type NewInstrument struct {
	Kind         domain.InstrumentKind
	Name         string
	Currency     string
	Opening      *decimal.Decimal
	Limit        decimal.Decimal
	InterestRate decimal.Decimal
	TermMonths   int
}

func limitField(kind domain.InstrumentKind) string {
	if kind == domain.KindLoan {
		return "principal"
	}
	return "creditLimit"
}

func openingField(kind domain.InstrumentKind) string {
	if kind == domain.KindBankAccount {
		return "initialBalance"
	}
	return "currentDebt"
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", domain.Invalid("name", "is required")
	}
	if len(name) > maxNameLength {
		return "", domain.Invalid("name", "must be at most %d characters", maxNameLength)
	}
	return name, nil
}

func validateLoanTerms(rate *decimal.Decimal, term *int) error {
	if rate != nil && (rate.IsNegative() || rate.GreaterThan(decimal.NewFromInt(100))) {
		return domain.Invalid("interestRate", "must be between 0 and 100")
	}
	if term != nil && *term < 0 {
		return domain.Invalid("termMonths", "must not be negative")
	}
	return nil
}

// Create opens a new instrument for ownerID.
func (s *InstrumentService) Create(ctx context.Context, ownerID uuid.UUID, req NewInstrument) (domain.Instrument, error) {
	name, err := validateName(req.Name)
	if err != nil {
		return domain.Instrument{}, err
	}
	currency, err := domain.NormalizeCurrency(req.Currency, s.defaultCurrency)
	if err != nil {
		return domain.Instrument{}, err
	}

	inst := domain.Instrument{
		Kind:     req.Kind,
		ID:       uuid.New(),
		OwnerID:  ownerID,
		Name:     name,
		Currency: currency,
	}

	opening := decimal.Zero
	if req.Opening != nil {
		opening = *req.Opening
	} else if req.Kind == domain.KindLoan {
		opening = req.Limit
	}
	if err := domain.CheckNonNegative(openingField(req.Kind), opening); err != nil {
		return domain.Instrument{}, err
	}
	inst.Opening = opening

	switch req.Kind {
	case domain.KindBankAccount:
		inst.Balance = opening
	case domain.KindCreditCard, domain.KindLoan:
		if err := domain.CheckNonNegative(limitField(req.Kind), req.Limit); err != nil {
			return domain.Instrument{}, err
		}
		if opening.GreaterThan(req.Limit) {
			return domain.Instrument{}, domain.Invalid("currentDebt", "must not exceed %s", limitField(req.Kind))
		}
		inst.Limit = req.Limit
		inst.CurrentDebt = opening
		if req.Kind == domain.KindLoan {
			if err := validateLoanTerms(&req.InterestRate, &req.TermMonths); err != nil {
				return domain.Instrument{}, err
			}
			inst.InterestRate = req.InterestRate
			inst.TermMonths = req.TermMonths
		}
	default:
		return domain.Instrument{}, domain.Invalid("kind", "unknown instrument kind %q", req.Kind)
	}

	var created domain.Instrument
	err = s.store.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		created, err = tx.Instruments(req.Kind).Create(ctx, inst)
		return err
	})
	if err != nil {
		return domain.Instrument{}, err
	}
	s.logger.Info("instrument created", "owner_id", ownerID, "kind", created.Kind, "instrument_id", created.ID)
	return created, nil
}

// Get returns one instrument owned by ownerID.
func (s *InstrumentService) Get(ctx context.Context, ownerID uuid.UUID, kind domain.InstrumentKind, id uuid.UUID) (domain.Instrument, error) {
	var inst domain.Instrument
	err := s.store.ReadOnly(ctx, func(tx store.Tx) error {
		var err error
		inst, err = tx.Instruments(kind).Get(ctx, id, ownerID)
		return err
	})
	return inst, err
}

// List returns ownerID's instruments of one kind, oldest first.
func (s *InstrumentService) List(ctx context.Context, ownerID uuid.UUID, kind domain.InstrumentKind) ([]domain.Instrument, error) {
	var out []domain.Instrument
	err := s.store.ReadOnly(ctx, func(tx store.Tx) error {
		var err error
		out, err = tx.Instruments(kind).ListByOwner(ctx, ownerID)
		return err
	})
	return out, err
}

// Update changes descriptive fields. A new credit limit or principal must not
// fall below the debt currently outstanding.
func (s *InstrumentService) Update(ctx context.Context, ownerID uuid.UUID, kind domain.InstrumentKind, id uuid.UUID, details domain.InstrumentDetails) (domain.Instrument, error) {
	if details.Name != nil {
		name, err := validateName(*details.Name)
		if err != nil {
			return domain.Instrument{}, err
		}
		details.Name = &name
	}
	if !kind.IsLiability() && details.Limit != nil {
		return domain.Instrument{}, domain.Invalid(limitField(kind), "is not supported for %s", kind)
	}
	if details.Limit != nil {
		if err := domain.CheckNonNegative(limitField(kind), *details.Limit); err != nil {
			return domain.Instrument{}, err
		}
	}
	if kind != domain.KindLoan && (details.InterestRate != nil || details.TermMonths != nil) {
		return domain.Instrument{}, domain.Invalid("interestRate", "is only supported for loans")
	}
	if err := validateLoanTerms(details.InterestRate, details.TermMonths); err != nil {
		return domain.Instrument{}, err
	}

	var updated domain.Instrument
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		repo := tx.Instruments(kind)
		current, err := repo.Lock(ctx, id, ownerID)
		if err != nil {
			return err
		}
		if details.Limit != nil && details.Limit.LessThan(current.CurrentDebt) {
			return domain.Invalid(limitField(kind), "must not be below the current debt of %s", current.CurrentDebt.StringFixed(domain.MoneyScale))
		}
		updated, err = repo.UpdateDetails(ctx, id, ownerID, details)
		return err
	})
	if err != nil {
		return domain.Instrument{}, err
	}
	return updated, nil
}

// Delete removes an instrument. Instruments referenced by any transaction
// cannot be deleted; the transactions must be deleted first.
func (s *InstrumentService) Delete(ctx context.Context, ownerID uuid.UUID, kind domain.InstrumentKind, id uuid.UUID) error {
	err := s.store.WithinTx(ctx, func(tx store.Tx) error {
		repo := tx.Instruments(kind)
		if _, err := repo.Lock(ctx, id, ownerID); err != nil {
			return err
		}
		count, err := tx.Ledger().CountByInstrument(ctx, domain.InstrumentRef{Kind: kind, ID: id}, ownerID)
		if err != nil {
			return err
		}
		if count > 0 {
			return fmt.Errorf("%w: %d transactions reference %s %s", domain.ErrInstrumentInUse, count, kind, id)
		}
		return repo.Delete(ctx, id, ownerID)
	})
	if err != nil {
		return err
	}
	s.logger.Info("instrument deleted", "owner_id", ownerID, "kind", kind, "instrument_id", id)
	return nil
}

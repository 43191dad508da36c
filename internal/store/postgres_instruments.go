package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/nfinance/finance-service/internal/domain"
	"github.com/shopspring/decimal"
)

// instrumentTable describes how one instrument kind maps onto its table. The
// column list is normalised so every kind scans into domain.Instrument the
// same way.
type instrumentTable struct {
	kind     domain.InstrumentKind
	name     string
	valueCol string
	columns  string
}

var instrumentTables = map[domain.InstrumentKind]instrumentTable{
	domain.KindBankAccount: {
		kind:     domain.KindBankAccount,
		name:     "bank_accounts",
		valueCol: "balance",
		columns: `id, user_id, name, currency, balance::text, '0', '0', opening_balance::text,
			'0', 0, created_at, updated_at`,
	},
	domain.KindCreditCard: {
		kind:     domain.KindCreditCard,
		name:     "credit_cards",
		valueCol: "current_debt",
		columns: `id, user_id, name, currency, '0', current_debt::text, credit_limit::text, opening_debt::text,
			'0', 0, created_at, updated_at`,
	},
	domain.KindLoan: {
		kind:     domain.KindLoan,
		name:     "loans",
		valueCol: "current_debt",
		columns: `id, user_id, name, currency, '0', current_debt::text, principal::text, opening_debt::text,
			interest_rate::text, term_months, created_at, updated_at`,
	},
}

func tableFor(kind domain.InstrumentKind) instrumentTable {
	t, ok := instrumentTables[kind]
	if !ok {
		return instrumentTable{kind: kind}
	}
	return t
}

type pgInstruments struct {
	q     dbtx
	table instrumentTable
}

func (r *pgInstruments) check() error {
	if r.table.name == "" {
		return domain.Invalid("kind", "unknown instrument kind %q", r.table.kind)
	}
	return nil
}

func (r *pgInstruments) scan(row pgx.Row) (domain.Instrument, error) {
	var inst domain.Instrument
	var balance, debt, limit, opening, interestRate string
	err := row.Scan(
		&inst.ID, &inst.OwnerID, &inst.Name, &inst.Currency,
		&balance, &debt, &limit, &opening, &interestRate, &inst.TermMonths,
		&inst.CreatedAt, &inst.UpdatedAt,
	)
	if err != nil {
		return domain.Instrument{}, err
	}
	inst.Kind = r.table.kind
	for _, f := range []struct {
		dst *decimal.Decimal
		raw string
	}{
		{&inst.Balance, balance},
		{&inst.CurrentDebt, debt},
		{&inst.Limit, limit},
		{&inst.Opening, opening},
		{&inst.InterestRate, interestRate},
	} {
		if *f.dst, err = decimal.NewFromString(f.raw); err != nil {
			return domain.Instrument{}, fmt.Errorf("%w: decode numeric %q: %v", domain.ErrStorage, f.raw, err)
		}
	}
	return inst, nil
}

func (r *pgInstruments) one(ctx context.Context, id uuid.UUID, query string, args ...any) (domain.Instrument, error) {
	inst, err := r.scan(r.q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Instrument{}, domain.NotFound(resourceName(r.table.kind), id)
		}
		if errors.Is(err, domain.ErrStorage) {
			return domain.Instrument{}, err
		}
		return domain.Instrument{}, classify("get "+r.table.name, err)
	}
	return inst, nil
}

func (r *pgInstruments) Get(ctx context.Context, id, ownerID uuid.UUID) (domain.Instrument, error) {
	if err := r.check(); err != nil {
		return domain.Instrument{}, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1 AND user_id = $2", r.table.columns, r.table.name)
	return r.one(ctx, id, query, id, ownerID)
}

func (r *pgInstruments) Lock(ctx context.Context, id, ownerID uuid.UUID) (domain.Instrument, error) {
	if err := r.check(); err != nil {
		return domain.Instrument{}, err
	}
	// Use FOR UPDATE to lock the row until the unit of work ends.
	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = $1 AND user_id = $2 FOR UPDATE", r.table.columns, r.table.name)
	return r.one(ctx, id, query, id, ownerID)
}

func (r *pgInstruments) ApplyDelta(ctx context.Context, id uuid.UUID, field domain.BalanceField, delta decimal.Decimal) (domain.Instrument, error) {
	if err := r.check(); err != nil {
		return domain.Instrument{}, err
	}
	if field != r.table.kind.Field() {
		return domain.Instrument{}, fmt.Errorf("%w: field %s does not exist on %s", domain.ErrStorage, field, r.table.kind)
	}

	current, err := r.one(ctx, id,
		fmt.Sprintf("SELECT %s FROM %s WHERE id = $1 FOR UPDATE", r.table.columns, r.table.name), id)
	if err != nil {
		return domain.Instrument{}, err
	}
	if err := current.CheckDelta(field, delta); err != nil {
		return domain.Instrument{}, err
	}

	query := fmt.Sprintf(
		"UPDATE %s SET %s = %s + $1::numeric, updated_at = now() WHERE id = $2 RETURNING %s",
		r.table.name, r.table.valueCol, r.table.valueCol, r.table.columns,
	)
	return r.one(ctx, id, query, delta.String(), id)
}

func (r *pgInstruments) Create(ctx context.Context, inst domain.Instrument) (domain.Instrument, error) {
	if err := r.check(); err != nil {
		return domain.Instrument{}, err
	}
	if inst.ID == uuid.Nil {
		inst.ID = uuid.New()
	}

	var query string
	var args []any
	switch r.table.kind {
	case domain.KindBankAccount:
		query = `INSERT INTO bank_accounts (id, user_id, name, currency, balance, opening_balance)
			VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric) RETURNING ` + r.table.columns
		args = []any{inst.ID, inst.OwnerID, inst.Name, inst.Currency, inst.Balance.String(), inst.Opening.String()}
	case domain.KindCreditCard:
		query = `INSERT INTO credit_cards (id, user_id, name, currency, credit_limit, current_debt, opening_debt)
			VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric) RETURNING ` + r.table.columns
		args = []any{inst.ID, inst.OwnerID, inst.Name, inst.Currency, inst.Limit.String(), inst.CurrentDebt.String(), inst.Opening.String()}
	case domain.KindLoan:
		query = `INSERT INTO loans (id, user_id, name, currency, principal, current_debt, opening_debt, interest_rate, term_months)
			VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7::numeric, $8::numeric, $9) RETURNING ` + r.table.columns
		args = []any{inst.ID, inst.OwnerID, inst.Name, inst.Currency, inst.Limit.String(), inst.CurrentDebt.String(),
			inst.Opening.String(), inst.InterestRate.String(), inst.TermMonths}
	}
	return r.one(ctx, inst.ID, query, args...)
}

func (r *pgInstruments) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.Instrument, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE user_id = $1 ORDER BY created_at, id", r.table.columns, r.table.name)
	return r.list(ctx, query, ownerID)
}

func (r *pgInstruments) ListAll(ctx context.Context) ([]domain.Instrument, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY user_id, created_at, id", r.table.columns, r.table.name)
	return r.list(ctx, query)
}

func (r *pgInstruments) list(ctx context.Context, query string, args ...any) ([]domain.Instrument, error) {
	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("list "+r.table.name, err)
	}
	defer rows.Close()

	out := make([]domain.Instrument, 0)
	for rows.Next() {
		inst, err := r.scan(rows)
		if err != nil {
			return nil, classify("scan "+r.table.name, err)
		}
		out = append(out, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list "+r.table.name, err)
	}
	return out, nil
}

func (r *pgInstruments) UpdateDetails(ctx context.Context, id, ownerID uuid.UUID, details domain.InstrumentDetails) (domain.Instrument, error) {
	current, err := r.Lock(ctx, id, ownerID)
	if err != nil {
		return domain.Instrument{}, err
	}
	if details.Name != nil {
		current.Name = *details.Name
	}
	if details.Limit != nil && r.table.kind.IsLiability() {
		if details.Limit.LessThan(current.CurrentDebt) {
			return domain.Instrument{}, domain.ErrLimitExceeded
		}
		current.Limit = *details.Limit
	}
	if details.InterestRate != nil {
		current.InterestRate = *details.InterestRate
	}
	if details.TermMonths != nil {
		current.TermMonths = *details.TermMonths
	}

	var query string
	var args []any
	switch r.table.kind {
	case domain.KindBankAccount:
		query = `UPDATE bank_accounts SET name = $1, updated_at = now() WHERE id = $2 RETURNING ` + r.table.columns
		args = []any{current.Name, id}
	case domain.KindCreditCard:
		query = `UPDATE credit_cards SET name = $1, credit_limit = $2::numeric, updated_at = now()
			WHERE id = $3 RETURNING ` + r.table.columns
		args = []any{current.Name, current.Limit.String(), id}
	case domain.KindLoan:
		query = `UPDATE loans SET name = $1, principal = $2::numeric, interest_rate = $3::numeric, term_months = $4,
			updated_at = now() WHERE id = $5 RETURNING ` + r.table.columns
		args = []any{current.Name, current.Limit.String(), current.InterestRate.String(), current.TermMonths, id}
	}
	return r.one(ctx, id, query, args...)
}

func (r *pgInstruments) Delete(ctx context.Context, id, ownerID uuid.UUID) error {
	if err := r.check(); err != nil {
		return err
	}
	tag, err := r.q.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = $1 AND user_id = $2", r.table.name), id, ownerID)
	if err != nil {
		return classify("delete "+r.table.name, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound(resourceName(r.table.kind), id)
	}
	return nil
}

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/nfinance/finance-service/internal/domain"
	"github.com/shopspring/decimal"
)

const transactionColumns = `
	id, seq, user_id, type, amount::text, date, description, category,
	source_kind, source_id, destination_kind, destination_id, transfer_type,
	created_at, updated_at`

type pgLedger struct {
	q dbtx
}

func scanTransaction(row pgx.Row) (domain.Transaction, error) {
	var (
		t              domain.Transaction
		amount         string
		srcKind, dKind *string
		srcID, dID     *uuid.UUID
	)
	err := row.Scan(
		&t.ID, &t.Seq, &t.OwnerID, &t.Type, &amount, &t.Date, &t.Description, &t.Category,
		&srcKind, &srcID, &dKind, &dID, &t.TransferType,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return domain.Transaction{}, err
	}
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return domain.Transaction{}, fmt.Errorf("%w: decode amount %q: %v", domain.ErrStorage, amount, err)
	}
	t.Source = refFromColumns(srcKind, srcID)
	t.Destination = refFromColumns(dKind, dID)
	t.Date = t.Date.UTC()
	return t, nil
}

func refFromColumns(kind *string, id *uuid.UUID) *domain.InstrumentRef {
	if kind == nil || id == nil {
		return nil
	}
	return &domain.InstrumentRef{Kind: domain.InstrumentKind(*kind), ID: *id}
}

func refColumns(ref *domain.InstrumentRef) (*string, *uuid.UUID) {
	if ref == nil {
		return nil, nil
	}
	kind, id := string(ref.Kind), ref.ID
	return &kind, &id
}

func (l *pgLedger) one(ctx context.Context, id uuid.UUID, op, query string, args ...any) (domain.Transaction, error) {
	t, err := scanTransaction(l.q.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Transaction{}, domain.NotFound("transaction", id)
		}
		if errors.Is(err, domain.ErrStorage) {
			return domain.Transaction{}, err
		}
		return domain.Transaction{}, classify(op, err)
	}
	return t, nil
}

func (l *pgLedger) Create(ctx context.Context, t domain.Transaction) (domain.Transaction, error) {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	srcKind, srcID := refColumns(t.Source)
	dKind, dID := refColumns(t.Destination)
	query := `
		INSERT INTO transactions (id, user_id, type, amount, date, description, category,
			source_kind, source_id, destination_kind, destination_id, transfer_type)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING ` + transactionColumns
	return l.one(ctx, t.ID, "create transaction", query,
		t.ID, t.OwnerID, string(t.Type), t.Amount.String(), t.Date, t.Description, t.Category,
		srcKind, srcID, dKind, dID, t.TransferType,
	)
}

func (l *pgLedger) Get(ctx context.Context, id, ownerID uuid.UUID) (domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1 AND user_id = $2`
	return l.one(ctx, id, "get transaction", query, id, ownerID)
}

func (l *pgLedger) Lock(ctx context.Context, id, ownerID uuid.UUID) (domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1 AND user_id = $2 FOR UPDATE`
	return l.one(ctx, id, "lock transaction", query, id, ownerID)
}

func (l *pgLedger) List(ctx context.Context, ownerID uuid.UUID, filter domain.TransactionFilter) ([]domain.Transaction, error) {
	filter = filter.Normalize()

	conds := []string{"user_id = $1"}
	args := []any{ownerID}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.Type != "" {
		conds = append(conds, "type = "+arg(string(filter.Type)))
	}
	if filter.Instrument != nil {
		k, id := arg(string(filter.Instrument.Kind)), arg(filter.Instrument.ID)
		conds = append(conds, fmt.Sprintf("((source_kind = %s AND source_id = %s) OR (destination_kind = %s AND destination_id = %s))", k, id, k, id))
	}
	if filter.Category != "" {
		conds = append(conds, "category = "+arg(filter.Category))
	}
	if filter.From != nil {
		conds = append(conds, "date >= "+arg(*filter.From))
	}
	if end, exclusive, ok := filter.EndBound(); ok {
		if exclusive {
			conds = append(conds, "date < "+arg(end))
		} else {
			conds = append(conds, "date <= "+arg(end))
		}
	}

	query := fmt.Sprintf(`SELECT %s FROM transactions WHERE %s ORDER BY date DESC, seq ASC LIMIT %s OFFSET %s`,
		transactionColumns, strings.Join(conds, " AND "), arg(filter.Limit), arg(filter.Offset))

	rows, err := l.q.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("list transactions", err)
	}
	defer rows.Close()

	transactions := make([]domain.Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, classify("scan transaction", err)
		}
		transactions = append(transactions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list transactions", err)
	}
	return transactions, nil
}

func (l *pgLedger) Update(ctx context.Context, t domain.Transaction) (domain.Transaction, error) {
	srcKind, srcID := refColumns(t.Source)
	dKind, dID := refColumns(t.Destination)
	query := `
		UPDATE transactions SET type = $3, amount = $4::numeric, date = $5, description = $6, category = $7,
			source_kind = $8, source_id = $9, destination_kind = $10, destination_id = $11,
			transfer_type = $12, updated_at = now()
		WHERE id = $1 AND user_id = $2
		RETURNING ` + transactionColumns
	return l.one(ctx, t.ID, "update transaction", query,
		t.ID, t.OwnerID, string(t.Type), t.Amount.String(), t.Date, t.Description, t.Category,
		srcKind, srcID, dKind, dID, t.TransferType,
	)
}

func (l *pgLedger) Delete(ctx context.Context, id, ownerID uuid.UUID) error {
	tag, err := l.q.Exec(ctx, "DELETE FROM transactions WHERE id = $1 AND user_id = $2", id, ownerID)
	if err != nil {
		return classify("delete transaction", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.NotFound("transaction", id)
	}
	return nil
}

func (l *pgLedger) CountByInstrument(ctx context.Context, ref domain.InstrumentRef, ownerID uuid.UUID) (int, error) {
	var count int
	err := l.q.QueryRow(ctx, `
		SELECT COUNT(*) FROM transactions
		WHERE user_id = $3
		  AND ((source_kind = $1 AND source_id = $2) OR (destination_kind = $1 AND destination_id = $2))`,
		string(ref.Kind), ref.ID, ownerID,
	).Scan(&count)
	if err != nil {
		return 0, classify("count transactions", err)
	}
	return count, nil
}

func (l *pgLedger) Totals(ctx context.Context, ref domain.InstrumentRef, ownerID uuid.UUID) (decimal.Decimal, decimal.Decimal, error) {
	var in, out string
	err := l.q.QueryRow(ctx, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE destination_kind = $1 AND destination_id = $2), 0)::text,
			COALESCE(SUM(amount) FILTER (WHERE source_kind = $1 AND source_id = $2), 0)::text
		FROM transactions
		WHERE user_id = $3
		  AND ((source_kind = $1 AND source_id = $2) OR (destination_kind = $1 AND destination_id = $2))`,
		string(ref.Kind), ref.ID, ownerID,
	).Scan(&in, &out)
	if err != nil {
		return decimal.Zero, decimal.Zero, classify("sum transactions", err)
	}
	inDec, err := decimal.NewFromString(in)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: decode total %q: %v", domain.ErrStorage, in, err)
	}
	outDec, err := decimal.NewFromString(out)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("%w: decode total %q: %v", domain.ErrStorage, out, err)
	}
	return inDec, outDec, nil
}

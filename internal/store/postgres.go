/**
 * @description
 * This file provides the PostgreSQL implementation of the Store interface. Each
 * unit of work is one pgx transaction; repositories bound to it share the same
 * pgx.Tx so instrument deltas and ledger writes commit together.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Domain models and error sentinels.
 *
 * @notes
 * - Row locks are taken with SELECT ... FOR UPDATE. Serialization failures and
 *   deadlocks (40001, 40P01) are retried with a short backoff before surfacing
 *   as domain.ErrConflict.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nfinance/finance-service/internal/domain"
)

const defaultMaxRetries = 3

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is a concrete implementation of the Store interface for PostgreSQL.
type PostgresStore struct {
	db         *pgxpool.Pool
	maxRetries int
}

// NewPostgresStore creates a new instance of PostgresStore.
func NewPostgresStore(db *pgxpool.Pool, maxRetries int) *PostgresStore {
	if maxRetries < 0 {
		maxRetries = defaultMaxRetries
	}
	return &PostgresStore{db: db, maxRetries: maxRetries}
}

func (s *PostgresStore) WithinTx(ctx context.Context, fn func(Tx) error) error {
	opts := pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite}
	return retryConflicts(ctx, s.maxRetries, func() error {
		return s.run(ctx, opts, fn)
	})
}

// conflictBackoff is the wait before retry n (zero based).
var conflictBackoff = func(n int) time.Duration {
	return time.Duration(n+1) * 20 * time.Millisecond
}

// retryConflicts calls attempt until it returns something other than
// ErrConflict, retrying at most maxRetries times.
func retryConflicts(ctx context.Context, maxRetries int, attempt func() error) error {
	for n := 0; ; n++ {
		err := attempt()
		if err == nil || !errors.Is(err, domain.ErrConflict) {
			return err
		}
		if n >= maxRetries {
			log.Printf("level=warn component=store msg=\"unit of work conflict; retries exhausted\" attempts=%d err=%v", n+1, err)
			return err
		}
		log.Printf("level=info component=store msg=\"unit of work conflict; retrying\" attempt=%d err=%v", n+1, err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(conflictBackoff(n)):
		}
	}
}

func (s *PostgresStore) ReadOnly(ctx context.Context, fn func(Tx) error) error {
	return s.run(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, fn)
}

func (s *PostgresStore) run(ctx context.Context, opts pgx.TxOptions, fn func(Tx) error) error {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return classify("begin", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return classify("commit", err)
	}
	return nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return classify("migrate", err)
		}
	}
	return nil
}

func (s *PostgresStore) Close() {
	s.db.Close()
}

type pgTx struct {
	q dbtx
}

func (t *pgTx) Instruments(kind domain.InstrumentKind) InstrumentStore {
	return &pgInstruments{q: t.q, table: tableFor(kind)}
}

func (t *pgTx) Ledger() Ledger { return &pgLedger{q: t.q} }

func (t *pgTx) Users() UserStore { return &pgUsers{q: t.q} }

// classify maps driver errors onto the domain taxonomy. Constraint names come
// from schema.go.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%s: %w: %w", op, domain.ErrConflict, err)
		case "22003":
			return fmt.Errorf("%s: %w", op, domain.Invalid("amount", "is out of range"))
		case "23514":
			switch {
			case strings.HasSuffix(pgErr.ConstraintName, "_balance_nonnegative"):
				return fmt.Errorf("%s: %w", op, domain.ErrInsufficientFunds)
			case strings.HasSuffix(pgErr.ConstraintName, "_debt_nonnegative"):
				return fmt.Errorf("%s: %w", op, domain.ErrOverpayment)
			default:
				return fmt.Errorf("%s: %w", op, domain.ErrLimitExceeded)
			}
		case "23505":
			switch pgErr.ConstraintName {
			case "users_email_key":
				return domain.ErrEmailTaken
			case "users_phone_number_key":
				return domain.ErrPhoneTaken
			}
		}
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStorage, err)
}

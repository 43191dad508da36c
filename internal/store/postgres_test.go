package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nfinance/finance-service/internal/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "serialization", err: &pgconn.PgError{Code: "40001"}, want: domain.ErrConflict},
		{name: "deadlock", err: &pgconn.PgError{Code: "40P01"}, want: domain.ErrConflict},
		{name: "bank floor", err: &pgconn.PgError{Code: "23514", ConstraintName: "bank_accounts_balance_nonnegative"}, want: domain.ErrInsufficientFunds},
		{name: "debt floor", err: &pgconn.PgError{Code: "23514", ConstraintName: "loans_debt_nonnegative"}, want: domain.ErrOverpayment},
		{name: "debt ceiling", err: &pgconn.PgError{Code: "23514", ConstraintName: "credit_cards_debt_within_limit"}, want: domain.ErrLimitExceeded},
		{name: "email", err: &pgconn.PgError{Code: "23505", ConstraintName: "users_email_key"}, want: domain.ErrEmailTaken},
		{name: "phone", err: &pgconn.PgError{Code: "23505", ConstraintName: "users_phone_number_key"}, want: domain.ErrPhoneTaken},
		{name: "numeric overflow", err: &pgconn.PgError{Code: "22003"}, want: domain.ErrValidation},
		{name: "other unique", err: &pgconn.PgError{Code: "23505", ConstraintName: "transactions_pkey"}, want: domain.ErrStorage},
		{name: "plain", err: errors.New("connection reset"), want: domain.ErrStorage},
		{name: "cancelled", err: context.Canceled, want: context.Canceled},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := classify("test", tc.err); !errors.Is(got, tc.want) {
				t.Fatalf("classify(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
	if classify("test", nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}

func TestRetryConflicts(t *testing.T) {
	saved := conflictBackoff
	conflictBackoff = func(int) time.Duration { return 0 }
	t.Cleanup(func() { conflictBackoff = saved })

	conflict := classify("commit", &pgconn.PgError{Code: "40001"})
	tests := []struct {
		name      string
		failures  int
		failWith  error
		wantCalls int
		want      error
	}{
		{name: "first try", failures: 0, wantCalls: 1},
		{name: "one conflict", failures: 1, failWith: conflict, wantCalls: 2},
		{name: "conflicts on every attempt", failures: 100, failWith: conflict, wantCalls: defaultMaxRetries + 1, want: domain.ErrConflict},
		{name: "business error is not retried", failures: 100, failWith: domain.ErrInsufficientFunds, wantCalls: 1, want: domain.ErrInsufficientFunds},
		{name: "storage error is not retried", failures: 100, failWith: classify("commit", errors.New("connection reset")), wantCalls: 1, want: domain.ErrStorage},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			err := retryConflicts(context.Background(), defaultMaxRetries, func() error {
				calls++
				if calls <= tc.failures {
					return tc.failWith
				}
				return nil
			})
			if calls != tc.wantCalls {
				t.Fatalf("expected %d attempts, got %d", tc.wantCalls, calls)
			}
			if tc.want == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.want != nil && !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	conflictBackoff = func(int) time.Duration { return time.Hour }
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := retryConflicts(ctx, defaultMaxRetries, func() error {
		calls++
		return conflict
	})
	if calls != 1 || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected a cancelled context to stop retrying, got calls=%d err=%v", calls, err)
	}
}

// newTestPostgresStore connects to TEST_DATABASE_URL or skips.
func newTestPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping postgres integration test")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	s := NewPostgresStore(pool, defaultMaxRetries)
	t.Cleanup(s.Close)
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestPostgresStore_PostingRoundTrip(t *testing.T) {
	s := newTestPostgresStore(t)
	ctx := context.Background()
	owner := uuid.New()
	bank := seedBank(t, s, owner, "100")

	date := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	ref := bank.Ref()
	var created domain.Transaction
	err := s.WithinTx(ctx, func(tx Tx) error {
		if _, err := tx.Instruments(domain.KindBankAccount).Lock(ctx, bank.ID, owner); err != nil {
			return err
		}
		if _, err := tx.Instruments(domain.KindBankAccount).ApplyDelta(ctx, bank.ID, domain.FieldBalance, dec("-25.50")); err != nil {
			return err
		}
		var err error
		created, err = tx.Ledger().Create(ctx, domain.Transaction{
			ID: uuid.New(), OwnerID: owner, Type: domain.TypeExpense, Amount: dec("25.50"), Date: date, Source: &ref,
		})
		return err
	})
	if err != nil {
		t.Fatalf("posting: %v", err)
	}

	err = s.ReadOnly(ctx, func(tx Tx) error {
		got, err := tx.Instruments(domain.KindBankAccount).Get(ctx, bank.ID, owner)
		if err != nil {
			return err
		}
		if !got.Balance.Equal(dec("74.50")) {
			t.Fatalf("expected balance 74.50, got %s", got.Balance)
		}
		loaded, err := tx.Ledger().Get(ctx, created.ID, owner)
		if err != nil {
			return err
		}
		if loaded.Source == nil || *loaded.Source != ref || !loaded.Amount.Equal(dec("25.50")) {
			t.Fatalf("unexpected ledger row: %+v", loaded)
		}
		in, out, err := tx.Ledger().Totals(ctx, ref, owner)
		if err != nil {
			return err
		}
		if !in.IsZero() || !out.Equal(dec("25.50")) {
			t.Fatalf("unexpected totals in=%s out=%s", in, out)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
}

func TestPostgresStore_OverdrawIsRejectedWithoutMutation(t *testing.T) {
	s := newTestPostgresStore(t)
	ctx := context.Background()
	owner := uuid.New()
	bank := seedBank(t, s, owner, "10")

	err := s.WithinTx(ctx, func(tx Tx) error {
		_, err := tx.Instruments(domain.KindBankAccount).ApplyDelta(ctx, bank.ID, domain.FieldBalance, dec("-10.01"))
		return err
	})
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	_ = s.ReadOnly(ctx, func(tx Tx) error {
		got, err := tx.Instruments(domain.KindBankAccount).Get(ctx, bank.ID, owner)
		if err != nil || !got.Balance.Equal(dec("10")) {
			t.Fatalf("expected untouched balance 10, got %s (%v)", got.Balance, err)
		}
		return nil
	})
}

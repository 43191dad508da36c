package app

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nfinance/finance-service/internal/domain"
	"github.com/nfinance/finance-service/internal/store"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type publishedEvent struct {
	exchange   string
	routingKey string
	event      PostingEvent
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	event, _ := body.(PostingEvent)
	p.events = append(p.events, publishedEvent{exchange: exchange, routingKey: routingKey, event: event})
	return p.err
}

func (p *recordingPublisher) keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.routingKey)
	}
	return out
}

type fixture struct {
	store       *store.MemoryStore
	engine      *PostingEngine
	instruments *InstrumentService
	publisher   *recordingPublisher
	owner       uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.NewMemoryStore()
	pub := &recordingPublisher{}
	return &fixture{
		store:       st,
		engine:      NewPostingEngine(st, pub, "finance.events", discardLogger()),
		instruments: NewInstrumentService(st, "USD", discardLogger()),
		publisher:   pub,
		owner:       uuid.New(),
	}
}

func (f *fixture) bank(t *testing.T, balance string) domain.InstrumentRef {
	t.Helper()
	opening := dec(balance)
	inst, err := f.instruments.Create(context.Background(), f.owner, NewInstrument{Kind: domain.KindBankAccount, Name: "Bank", Opening: &opening})
	if err != nil {
		t.Fatalf("create bank account: %v", err)
	}
	return inst.Ref()
}

func (f *fixture) card(t *testing.T, limit, debt string) domain.InstrumentRef {
	t.Helper()
	opening := dec(debt)
	inst, err := f.instruments.Create(context.Background(), f.owner, NewInstrument{Kind: domain.KindCreditCard, Name: "Card", Limit: dec(limit), Opening: &opening})
	if err != nil {
		t.Fatalf("create credit card: %v", err)
	}
	return inst.Ref()
}

func (f *fixture) loan(t *testing.T, principal, debt string) domain.InstrumentRef {
	t.Helper()
	opening := dec(debt)
	inst, err := f.instruments.Create(context.Background(), f.owner, NewInstrument{
		Kind: domain.KindLoan, Name: "Loan", Limit: dec(principal), Opening: &opening,
		InterestRate: dec("4.5"), TermMonths: 36,
	})
	if err != nil {
		t.Fatalf("create loan: %v", err)
	}
	return inst.Ref()
}

// value reads the balance or debt of ref.
func (f *fixture) value(t *testing.T, ref domain.InstrumentRef) decimal.Decimal {
	t.Helper()
	inst, err := f.instruments.Get(context.Background(), f.owner, ref.Kind, ref.ID)
	if err != nil {
		t.Fatalf("get %s: %v", ref, err)
	}
	return inst.Value(ref.Kind.Field())
}

func (f *fixture) expectValue(t *testing.T, ref domain.InstrumentRef, want string) {
	t.Helper()
	if got := f.value(t, ref); !got.Equal(dec(want)) {
		t.Fatalf("%s: expected %s, got %s", ref, want, got)
	}
}

var testDate = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func expense(amount string, src domain.InstrumentRef) domain.TransactionIntent {
	return domain.TransactionIntent{Type: domain.TypeExpense, Amount: dec(amount), Date: testDate, Source: &src}
}

func income(amount string, dst domain.InstrumentRef) domain.TransactionIntent {
	return domain.TransactionIntent{Type: domain.TypeIncome, Amount: dec(amount), Date: testDate, Destination: &dst}
}

func transfer(amount string, src, dst domain.InstrumentRef) domain.TransactionIntent {
	return domain.TransactionIntent{Type: domain.TypeTransfer, Amount: dec(amount), Date: testDate, Source: &src, Destination: &dst}
}

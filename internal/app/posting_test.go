package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nfinance/finance-service/internal/domain"
)

func TestPost_ExpenseIsExact(t *testing.T) {
	amounts := []string{"0.01", "1", "12.34", "499.99", "500"}
	for _, amount := range amounts {
		t.Run(amount, func(t *testing.T) {
			f := newFixture(t)
			bank := f.bank(t, "500")
			bystander := f.bank(t, "75")
			card := f.card(t, "100", "10")

			result, err := f.engine.Create(context.Background(), f.owner, expense(amount, bank))
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			f.expectValue(t, bank, dec("500").Sub(dec(amount)).String())
			f.expectValue(t, bystander, "75")
			f.expectValue(t, card, "10")
			if len(result.Instruments) != 1 || result.Instruments[0].ID != bank.ID {
				t.Fatalf("expected only the bank account in the result, got %+v", result.Instruments)
			}
		})
	}
}

func TestPost_TransferConservesAmount(t *testing.T) {
	f := newFixture(t)
	a := f.bank(t, "500")
	b := f.bank(t, "100")

	result, err := f.engine.Create(context.Background(), f.owner, transfer("300", a, b))
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	f.expectValue(t, a, "200")
	f.expectValue(t, b, "400")

	if result.Transaction.Type != domain.TypeTransfer ||
		result.Transaction.Source == nil || *result.Transaction.Source != a ||
		result.Transaction.Destination == nil || *result.Transaction.Destination != b {
		t.Fatalf("unexpected transaction: %+v", result.Transaction)
	}
	sum := dec("0")
	for _, s := range result.Instruments {
		before := dec("500")
		if s.ID == b.ID {
			before = dec("100")
		}
		sum = sum.Add((*s.Balance).Sub(before))
	}
	if !sum.IsZero() {
		t.Fatalf("expected balance changes to sum to zero, got %s", sum)
	}

	txs, err := f.engine.List(context.Background(), f.owner, domain.TransactionFilter{})
	if err != nil || len(txs) != 1 {
		t.Fatalf("expected exactly one persisted transaction, got %d (%v)", len(txs), err)
	}
}

func TestPost_CreateThenDeleteRestoresState(t *testing.T) {
	tests := []struct {
		name   string
		intent func(f *fixture, t *testing.T) (domain.TransactionIntent, []domain.InstrumentRef)
	}{
		{name: "bank expense", intent: func(f *fixture, t *testing.T) (domain.TransactionIntent, []domain.InstrumentRef) {
			bank := f.bank(t, "1000")
			return expense("200", bank), []domain.InstrumentRef{bank}
		}},
		{name: "card expense", intent: func(f *fixture, t *testing.T) (domain.TransactionIntent, []domain.InstrumentRef) {
			card := f.card(t, "5000", "100")
			return expense("250.75", card), []domain.InstrumentRef{card}
		}},
		{name: "loan payment", intent: func(f *fixture, t *testing.T) (domain.TransactionIntent, []domain.InstrumentRef) {
			bank := f.bank(t, "300")
			loan := f.loan(t, "10000", "9000")
			return transfer("250", bank, loan), []domain.InstrumentRef{bank, loan}
		}},
		{name: "card to bank cash advance", intent: func(f *fixture, t *testing.T) (domain.TransactionIntent, []domain.InstrumentRef) {
			card := f.card(t, "1000", "0")
			bank := f.bank(t, "5")
			return transfer("100", card, bank), []domain.InstrumentRef{card, bank}
		}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			in, refs := tc.intent(f, t)
			before := make(map[domain.InstrumentRef]string)
			for _, ref := range refs {
				before[ref] = f.value(t, ref).String()
			}

			created, err := f.engine.Create(context.Background(), f.owner, in)
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			if _, err := f.engine.Delete(context.Background(), f.owner, created.Transaction.ID); err != nil {
				t.Fatalf("delete: %v", err)
			}
			for _, ref := range refs {
				f.expectValue(t, ref, before[ref])
			}
			if _, err := f.engine.Get(context.Background(), f.owner, created.Transaction.ID); !errors.Is(err, domain.ErrNotFound) {
				t.Fatalf("expected deleted transaction to be gone, got %v", err)
			}
		})
	}
}

func TestPost_ConcreteScenarioExpenseAndDelete(t *testing.T) {
	f := newFixture(t)
	x := f.bank(t, "1000")

	created, err := f.engine.Create(context.Background(), f.owner, expense("200", x))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.expectValue(t, x, "800")
	stored, err := f.engine.Get(context.Background(), f.owner, created.Transaction.ID)
	if err != nil || stored.Type != domain.TypeExpense {
		t.Fatalf("expected persisted expense, got %+v (%v)", stored, err)
	}

	if _, err := f.engine.Delete(context.Background(), f.owner, created.Transaction.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	f.expectValue(t, x, "1000")
}

func TestPost_ConcreteScenarioCardLimit(t *testing.T) {
	f := newFixture(t)
	y := f.card(t, "5000", "4900")

	_, err := f.engine.Create(context.Background(), f.owner, expense("150", y))
	if !errors.Is(err, domain.ErrLimitExceeded) {
		t.Fatalf("expected LimitExceeded, got %v", err)
	}
	f.expectValue(t, y, "4900")
	txs, _ := f.engine.List(context.Background(), f.owner, domain.TransactionFilter{})
	if len(txs) != 0 {
		t.Fatalf("expected no ledger record after rejection, got %d", len(txs))
	}
}

func TestPost_CreditLimitBoundary(t *testing.T) {
	f := newFixture(t)
	card := f.card(t, "1000", "400")

	if _, err := f.engine.Create(context.Background(), f.owner, expense("600.01", card)); !errors.Is(err, domain.ErrLimitExceeded) {
		t.Fatalf("expected one cent over the limit to fail, got %v", err)
	}
	f.expectValue(t, card, "400")

	if _, err := f.engine.Create(context.Background(), f.owner, expense("600", card)); err != nil {
		t.Fatalf("expected charge to exactly the limit to pass, got %v", err)
	}
	f.expectValue(t, card, "1000")
}

func TestPost_UpdateAppliesOnlyTheDifference(t *testing.T) {
	tests := []struct {
		name      string
		from, to  string
		wantBank  string
		wantCard  string
		makeInput func(amount string, bank, card domain.InstrumentRef) domain.TransactionIntent
	}{
		{name: "expense up", from: "100", to: "150", wantBank: "850", makeInput: func(a string, b, _ domain.InstrumentRef) domain.TransactionIntent { return expense(a, b) }},
		{name: "expense down", from: "100", to: "40", wantBank: "960", makeInput: func(a string, b, _ domain.InstrumentRef) domain.TransactionIntent { return expense(a, b) }},
		{name: "income up", from: "10", to: "35.5", wantBank: "1035.5", makeInput: func(a string, b, _ domain.InstrumentRef) domain.TransactionIntent { return income(a, b) }},
		{name: "card payment up", from: "50", to: "80", wantBank: "920", wantCard: "20", makeInput: func(a string, b, c domain.InstrumentRef) domain.TransactionIntent { return transfer(a, b, c) }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			bank := f.bank(t, "1000")
			card := f.card(t, "500", "100")

			created, err := f.engine.Create(context.Background(), f.owner, tc.makeInput(tc.from, bank, card))
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			if _, err := f.engine.Update(context.Background(), f.owner, created.Transaction.ID, tc.makeInput(tc.to, bank, card)); err != nil {
				t.Fatalf("update: %v", err)
			}
			f.expectValue(t, bank, tc.wantBank)
			if tc.wantCard != "" {
				f.expectValue(t, card, tc.wantCard)
			} else {
				f.expectValue(t, card, "100")
			}
		})
	}
}

func TestPost_UpdateNetsBeforeChecking(t *testing.T) {
	f := newFixture(t)
	bank := f.bank(t, "100")

	created, err := f.engine.Create(context.Background(), f.owner, expense("100", bank))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	f.expectValue(t, bank, "0")

	// Applying the new amount before reversing the old one would overdraw.
	if _, err := f.engine.Update(context.Background(), f.owner, created.Transaction.ID, expense("90", bank)); err != nil {
		t.Fatalf("expected netted update to pass, got %v", err)
	}
	f.expectValue(t, bank, "10")
}

func TestPost_UpdateMovesBetweenInstruments(t *testing.T) {
	f := newFixture(t)
	bank := f.bank(t, "100")
	card := f.card(t, "500", "0")

	created, err := f.engine.Create(context.Background(), f.owner, expense("60", bank))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	result, err := f.engine.Update(context.Background(), f.owner, created.Transaction.ID, expense("60", card))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	f.expectValue(t, bank, "100")
	f.expectValue(t, card, "60")
	if len(result.Instruments) != 2 {
		t.Fatalf("expected both instruments in the update result, got %d", len(result.Instruments))
	}
	if result.Transaction.Seq != created.Transaction.Seq {
		t.Fatalf("expected update to keep insertion order, seq %d -> %d", created.Transaction.Seq, result.Transaction.Seq)
	}
}

func TestPost_FailedUpdateLeavesPreviousState(t *testing.T) {
	f := newFixture(t)
	bank := f.bank(t, "100")
	card := f.card(t, "100", "0")

	created, err := f.engine.Create(context.Background(), f.owner, transfer("50", bank, f.bank(t, "0")))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// The bank side of the new plan is valid; the card side breaches its limit.
	_, err = f.engine.Update(context.Background(), f.owner, created.Transaction.ID, expense("150", card))
	if !errors.Is(err, domain.ErrLimitExceeded) {
		t.Fatalf("expected LimitExceeded, got %v", err)
	}
	f.expectValue(t, bank, "50")
	f.expectValue(t, card, "0")

	stored, err := f.engine.Get(context.Background(), f.owner, created.Transaction.ID)
	if err != nil || stored.Type != domain.TypeTransfer || !stored.Amount.Equal(dec("50")) {
		t.Fatalf("expected record untouched, got %+v (%v)", stored, err)
	}
}

func TestPost_FailedDeleteLeavesPreviousState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bank := f.bank(t, "0")

	deposit, err := f.engine.Create(ctx, f.owner, income("100", bank))
	if err != nil {
		t.Fatalf("income: %v", err)
	}
	spend, err := f.engine.Create(ctx, f.owner, expense("80", bank))
	if err != nil {
		t.Fatalf("expense: %v", err)
	}

	// Reversing the deposit would take the account to -80.
	if _, err := f.engine.Delete(ctx, f.owner, deposit.Transaction.ID); !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected InsufficientFunds, got %v", err)
	}
	f.expectValue(t, bank, "20")
	if _, err := f.engine.Get(ctx, f.owner, deposit.Transaction.ID); err != nil {
		t.Fatalf("expected the deposit to survive a rejected delete, got %v", err)
	}
	listed, err := f.engine.List(ctx, f.owner, domain.TransactionFilter{Instrument: &bank})
	if err != nil || len(listed) != 2 {
		t.Fatalf("expected both postings still listed, got %d (%v)", len(listed), err)
	}

	// Once the expense is gone the deposit can be reversed.
	if _, err := f.engine.Delete(ctx, f.owner, spend.Transaction.ID); err != nil {
		t.Fatalf("delete expense: %v", err)
	}
	if _, err := f.engine.Delete(ctx, f.owner, deposit.Transaction.ID); err != nil {
		t.Fatalf("delete deposit: %v", err)
	}
	f.expectValue(t, bank, "0")
}

func TestList_DateOnlyRangeIncludesTimedPostings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bank := f.bank(t, "100")

	for _, at := range []time.Time{
		time.Date(2024, 6, 1, 15, 30, 0, 0, time.UTC),
		time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC),
	} {
		in := expense("1", bank)
		in.Date = at
		if _, err := f.engine.Create(ctx, f.owner, in); err != nil {
			t.Fatalf("create at %s: %v", at, err)
		}
	}

	day, err := domain.ParseDate("to", "2024-06-01")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	listed, err := f.engine.List(ctx, f.owner, domain.TransactionFilter{From: &day, To: &day})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 1 || listed[0].Date.Hour() != 15 {
		t.Fatalf("expected only the afternoon posting of 2024-06-01, got %+v", listed)
	}
}

func TestPost_RejectsBeforeSideEffects(t *testing.T) {
	f := newFixture(t)
	bank := f.bank(t, "100")
	missing := domain.InstrumentRef{Kind: domain.KindCreditCard, ID: uuid.New()}

	tests := []struct {
		name string
		in   domain.TransactionIntent
		want error
	}{
		{name: "negative amount", in: expense("-1", bank), want: domain.ErrValidation},
		{name: "sub-cent amount", in: expense("0.005", bank), want: domain.ErrValidation},
		{name: "missing destination", in: domain.TransactionIntent{Type: domain.TypeTransfer, Amount: dec("1"), Date: testDate, Source: &bank}, want: domain.ErrValidation},
		{name: "unknown destination", in: transfer("10", bank, missing), want: domain.ErrNotFound},
		{name: "overdraw", in: expense("100.01", bank), want: domain.ErrInsufficientFunds},
		{name: "amount out of range", in: income("10000000000000000", bank), want: domain.ErrValidation},
		{name: "balance out of range", in: income("9999999999999999", bank), want: domain.ErrValidation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.engine.Create(context.Background(), f.owner, tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			f.expectValue(t, bank, "100")
		})
	}
	if keys := f.publisher.keys(); len(keys) != 0 {
		t.Fatalf("expected no events for rejected postings, got %v", keys)
	}
}

func TestPost_OverpaymentIsRejected(t *testing.T) {
	f := newFixture(t)
	bank := f.bank(t, "1000")
	loan := f.loan(t, "5000", "200")

	if _, err := f.engine.Create(context.Background(), f.owner, transfer("200.01", bank, loan)); !errors.Is(err, domain.ErrOverpayment) {
		t.Fatalf("expected overpayment, got %v", err)
	}
	f.expectValue(t, bank, "1000")
	f.expectValue(t, loan, "200")

	if _, err := f.engine.Create(context.Background(), f.owner, transfer("200", bank, loan)); err != nil {
		t.Fatalf("expected exact payoff to pass, got %v", err)
	}
	f.expectValue(t, loan, "0")
}

func TestPost_ForeignInstrumentIsNotFound(t *testing.T) {
	f := newFixture(t)
	bank := f.bank(t, "100")
	intruder := uuid.New()

	if _, err := f.engine.Create(context.Background(), intruder, expense("10", bank)); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected NotFound for a foreign instrument, got %v", err)
	}
	f.expectValue(t, bank, "100")

	created, err := f.engine.Create(context.Background(), f.owner, expense("10", bank))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.engine.Delete(context.Background(), intruder, created.Transaction.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected NotFound deleting a foreign transaction, got %v", err)
	}

	// Re-pointing an owned transaction at someone else's account must fail too.
	opening := dec("100")
	theirs, err := f.instruments.Create(context.Background(), intruder, NewInstrument{Kind: domain.KindBankAccount, Name: "Theirs", Opening: &opening})
	if err != nil {
		t.Fatalf("create foreign account: %v", err)
	}
	foreign := theirs.Ref()
	if _, err := f.engine.Update(context.Background(), f.owner, created.Transaction.ID, expense("10", foreign)); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected NotFound re-pointing at a foreign account, got %v", err)
	}
	f.expectValue(t, bank, "90")
}

func TestPost_CurrencyMismatchIsRejected(t *testing.T) {
	f := newFixture(t)
	usd := f.bank(t, "100")
	opening := dec("0")
	eur, err := f.instruments.Create(context.Background(), f.owner, NewInstrument{Kind: domain.KindBankAccount, Name: "Euro", Currency: "EUR", Opening: &opening})
	if err != nil {
		t.Fatalf("create eur account: %v", err)
	}

	_, err = f.engine.Create(context.Background(), f.owner, transfer("10", usd, eur.Ref()))
	var verr *domain.ValidationError
	if !errors.As(err, &verr) || verr.Field != "destinationInstrumentId" {
		t.Fatalf("expected destination currency validation error, got %v", err)
	}
	f.expectValue(t, usd, "100")
}

func TestPost_ConcurrentPostingsLoseNoUpdates(t *testing.T) {
	f := newFixture(t)
	bank := f.bank(t, "1000")
	card := f.card(t, "10000", "0")

	const workers = 20
	const pairs = 5
	var wg sync.WaitGroup
	errs := make(chan error, workers*pairs*2)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			// Each worker charges before it pays, so debt never goes negative.
			for i := 0; i < pairs; i++ {
				for _, in := range []domain.TransactionIntent{expense("1.25", card), transfer("1.25", bank, card)} {
					if _, err := f.engine.Create(context.Background(), f.owner, in); err != nil {
						errs <- fmt.Errorf("worker %d: %w", w, err)
					}
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("posting failed: %v", err)
	}

	// 100 payments of 1.25 from the bank, net card debt zero.
	f.expectValue(t, bank, "875")
	f.expectValue(t, card, "0")

	report, err := NewReconciler(f.store, discardLogger()).Run(context.Background())
	if err != nil || len(report.Drifts) != 0 {
		t.Fatalf("expected no drift after concurrent postings, got %+v (%v)", report.Drifts, err)
	}
}

func TestPayCreditCard(t *testing.T) {
	f := newFixture(t)
	bank := f.bank(t, "500")
	card := f.card(t, "1000", "300")

	result, err := f.engine.PayCreditCard(context.Background(), f.owner, card.ID, CardPayment{Amount: dec("120"), BankAccountID: &bank.ID})
	if err != nil {
		t.Fatalf("pay from bank: %v", err)
	}
	f.expectValue(t, bank, "380")
	f.expectValue(t, card, "180")
	if result.Transaction.Type != domain.TypeTransfer || result.Transaction.TransferType != domain.TransferTypeCreditCardPayment {
		t.Fatalf("expected credit card payment transfer, got %+v", result.Transaction)
	}
	if result.Transaction.Description != "Credit card payment: Card" {
		t.Fatalf("unexpected default description %q", result.Transaction.Description)
	}

	result, err = f.engine.PayCreditCard(context.Background(), f.owner, card.ID, CardPayment{Amount: dec("80"), Description: "cash"})
	if err != nil {
		t.Fatalf("pay without bank: %v", err)
	}
	if result.Transaction.Type != domain.TypeIncome || result.Transaction.Description != "cash" {
		t.Fatalf("expected income payment, got %+v", result.Transaction)
	}
	f.expectValue(t, card, "100")

	if _, err := f.engine.PayCreditCard(context.Background(), f.owner, card.ID, CardPayment{Amount: dec("100.01")}); !errors.Is(err, domain.ErrOverpayment) {
		t.Fatalf("expected overpayment, got %v", err)
	}
	if _, err := f.engine.PayCreditCard(context.Background(), f.owner, card.ID, CardPayment{Amount: dec("200"), BankAccountID: &bank.ID}); !errors.Is(err, domain.ErrOverpayment) {
		t.Fatalf("expected overpayment from bank, got %v", err)
	}
	f.expectValue(t, bank, "380")
	if _, err := f.engine.PayCreditCard(context.Background(), f.owner, uuid.New(), CardPayment{Amount: dec("1")}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected unknown card to be NotFound, got %v", err)
	}
}

func TestPost_PublishesEventsAfterCommit(t *testing.T) {
	f := newFixture(t)
	bank := f.bank(t, "100")
	card := f.card(t, "100", "50")

	created, err := f.engine.Create(context.Background(), f.owner, expense("10", bank))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := f.engine.Update(context.Background(), f.owner, created.Transaction.ID, expense("20", bank)); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := f.engine.Delete(context.Background(), f.owner, created.Transaction.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := f.engine.PayCreditCard(context.Background(), f.owner, card.ID, CardPayment{Amount: dec("5")}); err != nil {
		t.Fatalf("pay: %v", err)
	}

	want := []string{EventTransactionCreated, EventTransactionUpdated, EventTransactionDeleted, EventCreditCardPaid}
	got := f.publisher.keys()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, got)
		}
	}
	first := f.publisher.events[0]
	if first.exchange != "finance.events" || first.event.TransactionID != created.Transaction.ID || first.event.OwnerID != f.owner {
		t.Fatalf("unexpected event payload: %+v", first)
	}
}

func TestPost_PublishFailureDoesNotFailPosting(t *testing.T) {
	f := newFixture(t)
	f.publisher.err = errors.New("broker down")
	bank := f.bank(t, "100")

	if _, err := f.engine.Create(context.Background(), f.owner, expense("10", bank)); err != nil {
		t.Fatalf("expected posting to succeed despite publish failure, got %v", err)
	}
	f.expectValue(t, bank, "90")
}

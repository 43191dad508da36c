package app

import (
	"sort"

	"github.com/nfinance/finance-service/internal/domain"
	"github.com/shopspring/decimal"
)

// posting is one signed change to an instrument's balance field. For bank
// accounts the delta moves the balance; for liabilities it moves the debt.
type posting struct {
	ref   domain.InstrumentRef
	delta decimal.Decimal
}

// forwardEffects returns the postings t applies when it is created. Money
// leaving a bank account lowers its balance; money leaving a card or loan
// raises its debt. Destinations move the other way.
func forwardEffects(t *domain.Transaction) []posting {
	if t == nil {
		return nil
	}
	var out []posting
	if t.Source != nil {
		out = append(out, posting{ref: *t.Source, delta: sourceDelta(t.Source.Kind, t.Amount)})
	}
	if t.Destination != nil {
		out = append(out, posting{ref: *t.Destination, delta: sourceDelta(t.Destination.Kind, t.Amount).Neg()})
	}
	return out
}

// reverseEffects is the exact negation of forwardEffects, driven by the kinds
// stored on the record.
func reverseEffects(t *domain.Transaction) []posting {
	forward := forwardEffects(t)
	for i := range forward {
		forward[i].delta = forward[i].delta.Neg()
	}
	return forward
}

func sourceDelta(kind domain.InstrumentKind, amount decimal.Decimal) decimal.Decimal {
	if kind.IsLiability() {
		return amount
	}
	return amount.Neg()
}

// netPostings sums postings per instrument and returns them in lock order.
// Instruments whose net change is zero are kept so callers still lock and
// report them.
func netPostings(groups ...[]posting) []posting {
	net := make(map[domain.InstrumentRef]decimal.Decimal)
	for _, group := range groups {
		for _, p := range group {
			net[p.ref] = net[p.ref].Add(p.delta)
		}
	}
	out := make([]posting, 0, len(net))
	for ref, delta := range net {
		out = append(out, posting{ref: ref, delta: delta})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ref.Less(out[j].ref) })
	return out
}

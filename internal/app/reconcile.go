package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nfinance/finance-service/internal/domain"
	"github.com/nfinance/finance-service/internal/store"
	"github.com/shopspring/decimal"
)

const reconcileJobTimeout = 10 * time.Minute

// Drift is an instrument whose stored balance disagrees with its ledger.
type Drift struct {
	Ref      domain.InstrumentRef
	OwnerID  uuid.UUID
	Currency string
	Stored   decimal.Decimal
	Expected decimal.Decimal
}

// Difference is Stored minus Expected.
func (d Drift) Difference() decimal.Decimal {
	return d.Stored.Sub(d.Expected)
}

// ReconcileReport summarises one reconciliation pass.
type ReconcileReport struct {
	Checked    int
	Drifts     []Drift
	StartedAt  time.Time
	FinishedAt time.Time
}

// Reconciler recomputes every instrument's balance from its opening value and
// the ledger, and reports any instrument whose stored value disagrees. It
// never writes.
type Reconciler struct {
	store  store.Store
	logger *slog.Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(st store.Store, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{store: st, logger: logger}
}

// ExpectedValue derives an instrument's balance or debt from its ledger
// totals. Bank accounts gain what flows in; liabilities gain what flows out.
func ExpectedValue(inst domain.Instrument, in, out decimal.Decimal) decimal.Decimal {
	if inst.Kind.IsLiability() {
		return inst.Opening.Add(out).Sub(in)
	}
	return inst.Opening.Add(in).Sub(out)
}

// Run performs one reconciliation pass over a consistent snapshot.
func (r *Reconciler) Run(ctx context.Context) (ReconcileReport, error) {
	report := ReconcileReport{StartedAt: time.Now().UTC()}
	err := r.store.ReadOnly(ctx, func(tx store.Tx) error {
		for _, kind := range domain.InstrumentKinds {
			instruments, err := tx.Instruments(kind).ListAll(ctx)
			if err != nil {
				return err
			}
			for _, inst := range instruments {
				in, out, err := tx.Ledger().Totals(ctx, inst.Ref(), inst.OwnerID)
				if err != nil {
					return err
				}
				report.Checked++

				expected := ExpectedValue(inst, in, out)
				stored := inst.Value(kind.Field())
				if !stored.Equal(expected) {
					report.Drifts = append(report.Drifts, Drift{
						Ref:      inst.Ref(),
						OwnerID:  inst.OwnerID,
						Currency: inst.Currency,
						Stored:   stored,
						Expected: expected,
					})
				}
			}
		}
		return nil
	})
	report.FinishedAt = time.Now().UTC()
	if err != nil {
		return report, err
	}

	for _, d := range report.Drifts {
		r.logger.Error("instrument balance drift",
			"kind", d.Ref.Kind,
			"instrument_id", d.Ref.ID,
			"owner_id", d.OwnerID,
			"stored", domain.FormatAmount(d.Stored, d.Currency),
			"expected", domain.FormatAmount(d.Expected, d.Currency),
		)
	}
	r.logger.Info("reconciliation finished",
		"checked", report.Checked,
		"drifts", len(report.Drifts),
		"duration", report.FinishedAt.Sub(report.StartedAt).String(),
	)
	return report, nil
}

// RunJob is the cron entry point.
func (r *Reconciler) RunJob() {
	ctx, cancel := context.WithTimeout(context.Background(), reconcileJobTimeout)
	defer cancel()
	if _, err := r.Run(ctx); err != nil {
		r.logger.Error("reconciliation failed", "error", err)
	}
}

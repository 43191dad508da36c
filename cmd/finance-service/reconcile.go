package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/google/subcommands"
	"github.com/nfinance/finance-service/internal/app"
	"github.com/nfinance/finance-service/internal/domain"
)

type reconcileCmd struct {
	configDir string
}

func (*reconcileCmd) Name() string     { return "reconcile" }
func (*reconcileCmd) Synopsis() string { return "check stored balances against the ledger" }
func (*reconcileCmd) Usage() string {
	return `finance-service reconcile [-config <dir>]

  Recomputes every balance and debt from the transactions and prints any
  instrument whose stored value differs. Exits 1 when drift is found.
`
}

func (c *reconcileCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.configDir, "config", ".", "Directory holding an optional .env file")
}

func (c *reconcileCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	cfg, err := loadConfig(c.configDir)
	if err != nil {
		log.Printf("level=error component=reconcile err=%v", err)
		return subcommands.ExitFailure
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Printf("level=error component=reconcile err=%v", err)
		return subcommands.ExitFailure
	}
	defer st.Close()

	report, err := app.NewReconciler(st, newLogger(cfg)).Run(ctx)
	if err != nil {
		log.Printf("level=error component=reconcile msg=\"reconciliation failed\" err=%v", err)
		return subcommands.ExitFailure
	}
	printReport(os.Stdout, report)
	if len(report.Drifts) > 0 {
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func printReport(w io.Writer, report app.ReconcileReport) {
	fmt.Fprintf(w, "checked %d instruments, %d with drift\n", report.Checked, len(report.Drifts))
	for _, d := range report.Drifts {
		fmt.Fprintf(w, "  %s owner=%s stored=%s expected=%s diff=%s\n",
			d.Ref,
			d.OwnerID,
			domain.FormatAmount(d.Stored, d.Currency),
			domain.FormatAmount(d.Expected, d.Currency),
			domain.FormatAmount(d.Difference(), d.Currency),
		)
	}
}

package main

import (
	"context"
	"flag"
	"log"

	"github.com/google/subcommands"
	"github.com/nfinance/finance-service/internal/store"
)

type migrateCmd struct {
	configDir string
}

func (*migrateCmd) Name() string     { return "migrate" }
func (*migrateCmd) Synopsis() string { return "create the database schema" }
func (*migrateCmd) Usage() string {
	return `finance-service migrate [-config <dir>]

  Applies the schema to DATABASE_URL. Safe to run repeatedly.
`
}

func (c *migrateCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.configDir, "config", ".", "Directory holding an optional .env file")
}

func (c *migrateCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	cfg, err := loadConfig(c.configDir)
	if err != nil {
		log.Printf("level=error component=migrate err=%v", err)
		return subcommands.ExitFailure
	}
	pool, err := openPostgres(ctx, cfg)
	if err != nil {
		log.Printf("level=error component=migrate err=%v", err)
		return subcommands.ExitFailure
	}
	st := store.NewPostgresStore(pool, cfg.PostingMaxRetries)
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		log.Printf("level=error component=migrate msg=\"schema migration failed\" err=%v", err)
		return subcommands.ExitFailure
	}
	log.Println("level=info component=migrate msg=\"schema up to date\"")
	return subcommands.ExitSuccess
}

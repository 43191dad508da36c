/**
 * @description
 * This is the main entry point for the finance-service. It dispatches to the
 * serve, migrate and reconcile subcommands.
 *
 * @dependencies
 * - github.com/google/subcommands: Subcommand dispatch.
 * - github.com/joho/godotenv: For loading .env files during local development.
 */

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"path"

	"github.com/google/subcommands"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file for local development.
	if err := godotenv.Load(); err != nil {
		log.Println("level=info component=bootstrap msg=\"no .env file found; using environment variables\"")
	}

	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")
	commander.Register(&serveCmd{}, "")
	commander.Register(&migrateCmd{}, "")
	commander.Register(&reconcileCmd{}, "")

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}

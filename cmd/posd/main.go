/*
main.go - posd entry point

PURPOSE:
  Command-line front end of the point-of-sale engine.

COMMANDS:
  serve   Run the HTTP API (graceful shutdown on SIGINT/SIGTERM)
  audit   Compare every tracked product's quantity with its ledger

ENVIRONMENT:
  See config/config.go. A .env file in the working directory is loaded
  first when present.

EXAMPLES:
  # Run with a SQLite file
  POS_JWT_SECRET=dev posd serve --dsn ./data/pos.db

  # Run against PostgreSQL
  POS_DB_DRIVER=postgres POS_DB_DSN=postgres://pos@localhost/pos posd serve

  # Nightly ledger check for one shop
  posd audit --shop shop-1
*/
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var version = "0.1.0"

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "posd",
		Short:         "posd - multi-tenant point-of-sale engine",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(newServeCmd(), newAuditCmd())
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

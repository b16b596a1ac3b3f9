package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/gyeh/caremodel/internal/db"
	"github.com/gyeh/caremodel/internal/exitcode"
	"github.com/gyeh/caremodel/internal/logging"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the Postgres warehouse schema migrations",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	log := logging.Setup(cfg.LogFormat, cfg.LogLevel)
	ctx := context.Background()

	if err := cfg.ValidateDSN(); err != nil {
		log.Error().Err(err).Msg("config validation failed")
		os.Exit(exitcode.UsageError)
	}

	pool := connect(ctx, log)
	defer pool.Close()

	n, err := db.ApplyMigrations(ctx, pool, log)
	if err != nil {
		log.Error().Err(err).Msg("migration failed")
		os.Exit(exitcode.TransformError)
	}

	log.Info().Int("applied", n).Msg("schema is up to date")
	return nil
}

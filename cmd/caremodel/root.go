package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/gyeh/caremodel/internal/config"
)

var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "caremodel",
	Short: "Legacy visit export → dimensional model builder",
	Long: "Reads the flat legacy healthcare visit export, builds the star schema " +
		"(ten dimensions and FactVisit), reconciles it against the source and " +
		"writes the tables as CSV, Parquet, SQLite and optionally Postgres.",
	SilenceUsage:      true,
	PersistentPreRunE: loadConfigFile,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfg.ConfigFile, "config", "", "YAML or TOML config file; flags given explicitly win")
	pf.StringVar(&cfg.DSN, "dsn", os.Getenv("CAREMODEL_DB_URL"), "Postgres connection string (or set CAREMODEL_DB_URL)")
	pf.StringVar(&cfg.LogFormat, "log-format", "text", "Log format: text or json")
	pf.StringVar(&cfg.LogLevel, "log-level", "info", "Log level: debug, info, warn, error")
}

// loadConfigFile merges settings in increasing precedence: .env, the
// --config file, then flags set on the command line.
func loadConfigFile(cmd *cobra.Command, args []string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if cfg.DSN == "" && !cmd.Flags().Changed("dsn") {
		cfg.DSN = os.Getenv("CAREMODEL_DB_URL")
	}
	if cfg.ConfigFile == "" {
		return nil
	}
	return cfg.LoadFromFile(cfg.ConfigFile, func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	})
}

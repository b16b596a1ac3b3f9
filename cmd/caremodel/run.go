package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/gyeh/caremodel/internal/config"
	"github.com/gyeh/caremodel/internal/db"
	"github.com/gyeh/caremodel/internal/etl"
	"github.com/gyeh/caremodel/internal/exitcode"
	"github.com/gyeh/caremodel/internal/logging"
	"github.com/gyeh/caremodel/internal/sink"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Build, reconcile and write the dimensional model",
	RunE:  runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&cfg.InputPath, "input", "", "Path to the legacy export, CSV or Parquet (required)")
	f.StringVar(&cfg.OutDir, "out", config.DefaultOutDir, "Output directory")
	f.StringVar(&cfg.Format, "format", config.FormatCSV, "Output format: csv, parquet or sqlite")
	f.StringVar(&cfg.StatusCutoff, "status-cutoff", config.DefaultStatusCutoff, "Last visit date (inclusive) that still makes a patient Inactive")
	f.BoolVar(&cfg.Strict, "strict", false, "Exit non-zero when reconciliation finds mismatches or missing visits")
	f.IntVar(&cfg.Preview, "preview", 0, "Print the first N rows of every table after the run")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	if code := execRun(); code != exitcode.Success {
		os.Exit(code)
	}
	return nil
}

// execRun performs the run and returns the process exit code. It returns
// rather than exiting so deferred cleanup always runs.
func execRun() int {
	log := logging.Setup(cfg.LogFormat, cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cfg.ValidateRun(); err != nil {
		log.Error().Err(err).Msg("config validation failed")
		return exitcode.UsageError
	}
	cutoff, err := etl.ParseCutoff(cfg.StatusCutoff)
	if err != nil {
		log.Error().Err(err).Msg("config validation failed")
		return exitcode.UsageError
	}

	// Load before touching any output, so a bad input leaves no artifacts.
	rc, err := etl.Open(ctx, cfg.InputPath, cutoff, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to load input")
		return exitcode.InputError
	}
	defer rc.Close()

	out, err := sink.ForFormat(cfg.Format, cfg.OutDir)
	if err != nil {
		log.Error().Err(err).Msg("failed to open output")
		return exitcode.SinkError
	}
	sinks := sink.Fanout{out}

	var pub *db.Publisher
	if cfg.DSN != "" {
		pool, err := db.NewPool(ctx, cfg.DSN)
		if err != nil {
			sinks.Close()
			log.Error().Err(err).Msg("database connection failed")
			return exitcode.DBConnError
		}
		defer pool.Close()
		if _, err := db.ApplyMigrations(ctx, pool, log); err != nil {
			sinks.Close()
			log.Error().Err(err).Msg("migration failed")
			return exitcode.SinkError
		}
		pub = db.NewPublisher(pool, log)
		sinks = append(sinks, pub)
	}

	res, err := etl.Run(ctx, rc, sinks)
	if closeErr := sinks.Close(); err == nil && closeErr != nil {
		err = &etl.PipelineError{Phase: "write", Err: closeErr}
	}
	if err != nil {
		var pe *etl.PipelineError
		if errors.As(err, &pe) {
			log.Error().Err(pe.Err).Str("phase", pe.Phase).Msg("run failed")
			switch pe.Phase {
			case "load":
				return exitcode.InputError
			case "write":
				return exitcode.SinkError
			default:
				return exitcode.TransformError
			}
		}
		log.Error().Err(err).Msg("run failed")
		return exitcode.TransformError
	}

	if pub != nil {
		if err := pub.RecordRun(ctx, res.Summary); err != nil {
			log.Error().Err(err).Msg("failed to record load run")
			return exitcode.SinkError
		}
	}

	printRunReport(os.Stdout, res, cfg.OutDir, cfg.Format)
	if cfg.Preview > 0 {
		printPreview(os.Stdout, res, cfg.Preview)
	}

	if cfg.Strict && !res.Summary.Clean() {
		log.Warn().
			Int64("mismatches", res.Summary.Mismatches).
			Int64("missing_visits", res.Summary.MissingVisits).
			Msg("reconciliation failed in strict mode")
		return exitcode.ReconcileMismatch
	}
	return exitcode.Success
}

func connect(ctx context.Context, log zerolog.Logger) *pgxpool.Pool {
	pool, err := db.NewPool(ctx, cfg.DSN)
	if err != nil {
		log.Error().Err(err).Msg("database connection failed")
		os.Exit(exitcode.DBConnError)
	}
	return pool
}

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/gyeh/caremodel/internal/etl"
	"github.com/gyeh/caremodel/internal/exitcode"
	"github.com/gyeh/caremodel/internal/logging"
	"github.com/gyeh/caremodel/internal/source"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Validate the input and print stats (no writes)",
	RunE:  runPlan,
}

func init() {
	planCmd.Flags().StringVar(&cfg.InputPath, "input", "", "Path to the legacy export, CSV or Parquet (required)")
	rootCmd.AddCommand(planCmd)
}

func runPlan(cmd *cobra.Command, args []string) error {
	log := logging.Setup(cfg.LogFormat, cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Msg("config validation failed")
		os.Exit(exitcode.UsageError)
	}

	stat, err := os.Stat(cfg.InputPath)
	if err != nil {
		log.Error().Err(err).Msg("failed to stat input")
		os.Exit(exitcode.InputError)
	}

	ds, err := source.Load(cfg.InputPath)
	if err != nil {
		log.Error().Err(err).Msg("failed to load input")
		os.Exit(exitcode.InputError)
	}

	stats, err := etl.Plan(context.Background(), ds, log)
	if err != nil {
		log.Error().Err(err).Msg("failed to compute stats")
		os.Exit(exitcode.TransformError)
	}

	fmt.Println(titleStyle.Render("caremodel plan"))
	fmt.Printf("File:            %s (%s)\n", ds.Path, ds.Format)
	fmt.Printf("SHA-256:         %s\n", ds.SHA256)
	fmt.Printf("Size:            %d bytes\n", stat.Size())
	fmt.Printf("Rows:            %d\n", stats.Rows)
	fmt.Printf("Distinct visits: %d\n", stats.DistinctVisits)
	fmt.Printf("Unparsed visit_datetime: %d\n", stats.UnparsedVisitDates)
	fmt.Println()
	fmt.Println(planTable(stats))
	fmt.Println("Schema validation: OK")
	return nil
}

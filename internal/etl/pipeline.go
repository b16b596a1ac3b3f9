package etl

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/gyeh/caremodel/internal/model"
	"github.com/gyeh/caremodel/internal/normalize"
	"github.com/gyeh/caremodel/internal/relation"
)

// PipelineError wraps an error with the phase where it occurred.
type PipelineError struct {
	Phase string
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Phase, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// TableWriter persists one finished table. Implementations replace any
// previous copy of the table.
type TableWriter interface {
	Write(ctx context.Context, table model.Table, rows relation.Relation) error
}

// Result is everything a run produced.
type Result struct {
	Dimensions   *Dimensions
	Fact         relation.Relation
	Reports      []ReconciliationReport
	Completeness *CompletenessReport
	Summary      *model.RunSummary
}

// Outputs returns every table in write order, dimensions first.
func (r *Result) Outputs() []Output {
	return append(r.Dimensions.Outputs(), Output{Table: model.FactVisit, Rows: r.Fact})
}

// Run executes the pipeline: dimensions → fact → reconcile → write.
// Reconciliation findings never fail the run; they are returned in the
// Result. A nil writer skips the write phase.
func Run(ctx context.Context, rc *RunContext, w TableWriter) (*Result, error) {
	log := rc.Log
	st := rc.Stage
	src := rc.Source.Rows
	summary := &model.RunSummary{
		RunID:        rc.RunID.String(),
		InputPath:    rc.Source.Path,
		InputSHA256:  rc.Source.SHA256,
		RowsRead:     int64(src.Len()),
		RowsByTable:  make(map[string]int64),
		DurationLoad: rc.loadDuration,
	}

	// Phase 1: Dimensions
	start := time.Now()
	log.Info().Str("cutoff", rc.Cutoff.Format(normalize.DateLayout)).Msg("building dimensions")
	dims, err := BuildDimensions(ctx, rc)
	if err != nil {
		return nil, &PipelineError{Phase: "dimensions", Err: err}
	}
	summary.DurationDims = time.Since(start)

	// Phase 2: Fact
	if err := ctx.Err(); err != nil {
		return nil, &PipelineError{Phase: "fact", Err: err}
	}
	start = time.Now()
	fact, err := BuildFact(ctx, st)
	if err != nil {
		return nil, &PipelineError{Phase: "fact", Err: err}
	}
	if err := st.Put(ctx, model.FactVisit.SQLName, fact); err != nil {
		return nil, &PipelineError{Phase: "fact", Err: err}
	}
	summary.DurationFact = time.Since(start)
	log.Info().
		Str("table", model.FactVisit.Name).
		Int("rows", fact.Len()).
		Dur("duration", summary.DurationFact).
		Msg("fact built")

	// Phase 3: Reconcile
	if err := ctx.Err(); err != nil {
		return nil, &PipelineError{Phase: "reconcile", Err: err}
	}
	start = time.Now()
	reports, err := ReconcileAll(ctx, st)
	if err != nil {
		return nil, &PipelineError{Phase: "reconcile", Err: err}
	}
	completeness, err := CheckCompleteness(ctx, st)
	if err != nil {
		return nil, &PipelineError{Phase: "reconcile", Err: err}
	}
	summary.DurationAudit = time.Since(start)
	logReconciliation(rc, reports, completeness)

	result := &Result{
		Dimensions:   dims,
		Fact:         fact,
		Reports:      reports,
		Completeness: completeness,
		Summary:      summary,
	}
	summary.DistinctVisits = int64(completeness.SourceVisits)
	summary.ChecksRun = len(reports)
	for _, r := range reports {
		summary.RowsChecked += int64(r.Checked)
		summary.Mismatches += int64(r.Mismatched)
		summary.UnkeyedRows += int64(r.Unkeyed)
	}
	summary.MissingVisits = int64(len(completeness.Missing))
	summary.Complete = completeness.Complete()
	for _, o := range result.Outputs() {
		summary.RowsByTable[o.Table.Name] = int64(o.Rows.Len())
	}

	// Phase 4: Write
	if w != nil {
		start = time.Now()
		for _, o := range result.Outputs() {
			if err := ctx.Err(); err != nil {
				return nil, &PipelineError{Phase: "write", Err: err}
			}
			if err := w.Write(ctx, o.Table, o.Rows); err != nil {
				return nil, &PipelineError{Phase: "write", Err: fmt.Errorf("%s: %w", o.Table.Name, err)}
			}
			log.Debug().Str("table", o.Table.Name).Int("rows", o.Rows.Len()).Msg("table written")
		}
		summary.DurationWrite = time.Since(start)
		log.Info().
			Int("tables", len(result.Outputs())).
			Dur("duration", summary.DurationWrite).
			Msg("tables written")
	}

	summary.DurationTotal = summary.DurationLoad + time.Since(rc.Started)
	log.Info().
		Int64("rows_read", summary.RowsRead).
		Int64("distinct_visits", summary.DistinctVisits).
		Int64("fact_rows", summary.RowsByTable[model.FactVisit.Name]).
		Int64("mismatches", summary.Mismatches).
		Bool("complete", summary.Complete).
		Str("total_duration", summary.DurationTotal.String()).
		Msg("pipeline complete")

	return result, nil
}

func logReconciliation(rc *RunContext, reports []ReconciliationReport, c *CompletenessReport) {
	for _, r := range reports {
		level := zerolog.InfoLevel
		if !r.OK() {
			level = zerolog.WarnLevel
		}
		rc.Log.WithLevel(level).
			Str("check", r.Name).
			Int("checked", r.Checked).
			Int("mismatched", r.Mismatched).
			Int("unkeyed", r.Unkeyed).
			Msg("reconciliation")
	}
	level := zerolog.InfoLevel
	if !c.Complete() {
		level = zerolog.WarnLevel
	}
	rc.Log.WithLevel(level).
		Int("source_visits", c.SourceVisits).
		Int("fact_visits", c.FactVisits).
		Int("missing", len(c.Missing)).
		Int("extra", len(c.Extra)).
		Msg("completeness")
}

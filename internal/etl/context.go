// Package etl turns the flat legacy dataset into the dimensional model and
// audits the result.
//
// A run is driven through a RunContext: the source is staged into a
// private SQLite database, dimensions are built there first (in parallel),
// then the fact table, then reconciliation, and finally the tables are
// handed to a TableWriter. Each step is an embedded SQL query; its result
// comes back as an immutable relation.Relation and is staged again for the
// steps after it.
package etl

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gyeh/caremodel/internal/normalize"
	"github.com/gyeh/caremodel/internal/source"
)

// DefaultCutoff is the last calendar day on which a patient's latest visit
// still counts as Inactive.
var DefaultCutoff = time.Date(2021, time.December, 31, 0, 0, 0, 0, time.UTC)

// RunContext carries everything one run needs. It is created once at run
// start, passed to each phase, and closed at run end.
type RunContext struct {
	RunID   uuid.UUID
	Source  *source.Dataset
	Stage   *Stage
	Cutoff  time.Time
	Log     zerolog.Logger
	Started time.Time

	loadDuration time.Duration
	closed       bool
}

// NewRunContext stages an already loaded dataset.
func NewRunContext(ctx context.Context, ds *source.Dataset, cutoff time.Time, log zerolog.Logger) (*RunContext, error) {
	id := uuid.New()
	log = log.With().Str("run_id", id.String()).Logger()
	st, err := stageSource(ctx, ds, log)
	if err != nil {
		return nil, err
	}
	return &RunContext{
		RunID:   id,
		Source:  ds,
		Stage:   st,
		Cutoff:  cutoff,
		Log:     log,
		Started: time.Now(),
	}, nil
}

// stageSource opens a stage holding ds as SourceTable.
func stageSource(ctx context.Context, ds *source.Dataset, log zerolog.Logger) (*Stage, error) {
	st, err := OpenStage(ctx, log)
	if err != nil {
		return nil, err
	}
	if err := st.Put(ctx, SourceTable, ds.Rows); err != nil {
		st.Close()
		return nil, err
	}
	if _, ok := ds.Rows.Index(VisitKey); ok {
		if err := st.Index(ctx, SourceTable, VisitKey); err != nil {
			st.Close()
			return nil, fmt.Errorf("index source: %w", err)
		}
	}
	return st, nil
}

// Open loads and stages the dataset at path and returns a RunContext over it.
func Open(ctx context.Context, path string, cutoff time.Time, log zerolog.Logger) (*RunContext, error) {
	start := time.Now()
	log.Info().Str("file", path).Msg("loading source")
	ds, err := source.Load(path)
	if err != nil {
		return nil, &PipelineError{Phase: "load", Err: err}
	}
	rc, err := NewRunContext(ctx, ds, cutoff, log)
	if err != nil {
		return nil, &PipelineError{Phase: "load", Err: err}
	}
	rc.loadDuration = time.Since(start)

	ev := rc.Log.Info().
		Int("rows", ds.Rows.Len()).
		Str("format", ds.Format).
		Str("sha256", ds.SHA256).
		Dur("duration", rc.loadDuration)
	if ds.UnparsedVisitDates > 0 {
		ev = ev.Int("unparsed_visit_dates", ds.UnparsedVisitDates)
	}
	ev.Msg("source loaded")
	return rc, nil
}

// ParseCutoff parses a cutoff date given as YYYY-MM-DD (or any layout
// normalize.ParseDate accepts). An empty string yields DefaultCutoff.
func ParseCutoff(s string) (time.Time, error) {
	if s == "" {
		return DefaultCutoff, nil
	}
	t := normalize.ParseDate(s)
	if t == nil {
		return time.Time{}, fmt.Errorf("invalid status cutoff %q", s)
	}
	return *t, nil
}

// Close ends the run. It removes the stage, releases the source relation
// and logs the total run time. Calling Close more than once is a no-op.
func (rc *RunContext) Close() {
	if rc == nil || rc.closed {
		return
	}
	rc.closed = true
	if err := rc.Stage.Close(); err != nil {
		rc.Log.Warn().Err(err).Msg("failed to remove stage")
	}
	rc.Stage = nil
	rc.Source = nil
	rc.Log.Debug().Dur("elapsed", time.Since(rc.Started)).Msg("run context closed")
}

package model

import "time"

// RunSummary captures metrics from a single pipeline run.
type RunSummary struct {
	RunID          string
	InputPath      string
	InputSHA256    string
	RowsRead       int64
	DistinctVisits int64
	RowsByTable    map[string]int64
	ChecksRun      int
	RowsChecked    int64
	Mismatches     int64
	UnkeyedRows    int64
	MissingVisits  int64
	Complete       bool
	DurationLoad   time.Duration
	DurationDims   time.Duration
	DurationFact   time.Duration
	DurationAudit  time.Duration
	DurationWrite  time.Duration
	DurationTotal  time.Duration
}

// Clean reports whether every reconciliation check passed.
func (s *RunSummary) Clean() bool {
	return s.Mismatches == 0 && s.Complete
}

package etl

import (
	"context"
	"time"

	"github.com/gyeh/caremodel/internal/normalize"
	"github.com/gyeh/caremodel/internal/relation"
)

// Patient status values.
const (
	StatusActive   = "Active"
	StatusInactive = "Inactive"
)

// StatusColumn is the column DeriveStatus adds.
const StatusColumn = "patient_status"

// statusTable is the staged DeriveStatus result joined into DimPatient.
const statusTable = "patient_status"

// StatusSpec configures DeriveStatus.
type StatusSpec struct {
	GroupKey   string
	DateColumn string // canonical timestamps, see normalize.TimestampLayout
	Cutoff     time.Time
}

// DeriveStatus returns (GroupKey, patient_status) with one row per group
// that has at least one non-null date. A group whose latest date falls on
// or before the cutoff's calendar day is Inactive; later is Active. Groups
// with no dates and rows with a null group key are left out, so a later
// left join leaves their status null.
//
// Canonical timestamps are fixed-width ISO text, so the string maximum is
// the latest date and the day prefix compares chronologically.
func DeriveStatus(ctx context.Context, st *Stage, spec StatusSpec) (relation.Relation, error) {
	q, err := render(patientStatusQuery, struct {
		StatusSpec
		StatusColumn string
	}{spec, StatusColumn})
	if err != nil {
		return relation.Relation{}, err
	}
	return st.Query(ctx, q, spec.Cutoff.Format(normalize.DateLayout), StatusInactive, StatusActive)
}

package etl

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/gyeh/caremodel/internal/source"
)

// PlanStats describes a dataset without building anything from it.
type PlanStats struct {
	Rows               int
	DistinctVisits     int
	UnparsedVisitDates int
	// Unkeyable counts, per derived dimension, the source rows with a null
	// business-key column. Those rows get a null foreign key.
	Unkeyable map[string]int
	// MissingIdentity counts, per identity dimension, rows with a null key.
	MissingIdentity map[string]int
}

// Plan stages ds in a throwaway database and computes PlanStats for it.
func Plan(ctx context.Context, ds *source.Dataset, log zerolog.Logger) (*PlanStats, error) {
	st, err := stageSource(ctx, ds, log)
	if err != nil {
		return nil, err
	}
	defer st.Close()

	q, err := render(distinctVisitsQuery, struct{ Table string }{SourceTable})
	if err != nil {
		return nil, err
	}
	visits, err := st.Count(ctx, q)
	if err != nil {
		return nil, err
	}
	stats := &PlanStats{
		Rows:               ds.Rows.Len(),
		DistinctVisits:     visits,
		UnparsedVisitDates: ds.UnparsedVisitDates,
		Unkeyable:          make(map[string]int),
		MissingIdentity:    make(map[string]int),
	}
	for _, spec := range DerivedSpecs {
		if stats.Unkeyable[spec.Table.Name], err = nullRows(ctx, st, spec.BusinessKey...); err != nil {
			return nil, err
		}
	}
	for _, spec := range []IdentitySpec{PatientSpec, InsuranceSpec, BillingSpec, PrescriptionSpec, LabOrderSpec} {
		if stats.MissingIdentity[spec.Table.Name], err = nullRows(ctx, st, spec.Key); err != nil {
			return nil, err
		}
	}
	return stats, nil
}

func nullRows(ctx context.Context, st *Stage, cols ...string) (int, error) {
	q, err := render(nullRowsQuery, struct{ Columns []string }{cols})
	if err != nil {
		return 0, err
	}
	return st.Count(ctx, q)
}

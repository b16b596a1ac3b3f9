package etl

import (
	"context"
	"fmt"
	"slices"

	"github.com/gyeh/caremodel/internal/model"
	"github.com/gyeh/caremodel/internal/relation"
)

// Link ties one fact foreign key to the dimension it references.
type Link struct {
	Dimension  string   // staged dimension table
	KeyColumn  string   // foreign key in the fact, primary key in the dimension
	Attributes []string // business-key columns, named the same in dimension and source
}

// Check is one reconciliation audit. A check with several links compares
// them jointly, row by row.
type Check struct {
	Name  string
	Links []Link
}

// Mismatch is one fact row whose dimension path disagrees with its source
// path.
type Mismatch struct {
	VisitID   relation.Value
	Keys      []relation.Value // one per link, in link order
	Dimension []relation.Value // attribute values via the foreign key
	Source    []relation.Value // attribute values via visit_id
}

// ReconciliationReport is the result of one Check.
type ReconciliationReport struct {
	Name       string
	KeyColumns []string
	Attributes []string // order of Mismatch.Dimension and Mismatch.Source
	Checked    int
	Mismatched int
	// Unkeyed counts rows with a null foreign key whose source business key
	// was itself incomplete, so there was nothing to resolve.
	Unkeyed    int
	Mismatches []Mismatch
}

// OK reports whether the check found no mismatches.
func (r *ReconciliationReport) OK() bool {
	return r.Mismatched == 0
}

// Reconcile audits one check against the staged fact, source and
// dimensions. For every fact row it recovers the business key twice:
// through the foreign key into the dimension, and through visit_id back
// into the source. A row is a mismatch when, for any link:
//
//   - the foreign key is set and any attribute differs (nulls compare equal), or
//   - the foreign key is null although the source business key is complete.
//
// A null foreign key over an incomplete source business key is counted as
// unkeyed. Fact rows with a null visit_id cannot be traced and are skipped.
// A visit that repeats in the source is checked once per source row.
func Reconcile(ctx context.Context, st *Stage, check Check) (*ReconciliationReport, error) {
	if len(check.Links) == 0 {
		return nil, fmt.Errorf("reconcile %s: no links", check.Name)
	}
	q, err := render(reconcileQuery, check)
	if err != nil {
		return nil, fmt.Errorf("reconcile %s: %w", check.Name, err)
	}
	joined, err := st.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("reconcile %s: %w", check.Name, err)
	}

	// Columns come back as visit_id, the keys, the dimension attributes,
	// the source attributes, then one verdict per link.
	keys := make([]string, len(check.Links))
	var attrs []string
	for i, l := range check.Links {
		keys[i] = l.KeyColumn
		attrs = append(attrs, l.Attributes...)
	}
	nk, na := len(keys), len(attrs)
	if got, want := len(joined.Columns()), 1+nk+2*na+nk; got != want {
		return nil, fmt.Errorf("reconcile %s: got %d columns, want %d", check.Name, got, want)
	}

	report := &ReconciliationReport{
		Name:       check.Name,
		KeyColumns: keys,
		Attributes: attrs,
		Checked:    joined.Len(),
	}
	err = joined.Each(func(_ int, row relation.Row) error {
		mismatch, unkeyed := false, false
		for _, v := range row[1+nk+2*na:] {
			switch v.Str() {
			case verdictMismatch:
				mismatch = true
			case verdictUnkeyed:
				unkeyed = true
			}
		}
		switch {
		case mismatch:
			report.Mismatches = append(report.Mismatches, Mismatch{
				VisitID:   row[0],
				Keys:      slices.Clone(row[1 : 1+nk]),
				Dimension: slices.Clone(row[1+nk : 1+nk+na]),
				Source:    slices.Clone(row[1+nk+na : 1+nk+2*na]),
			})
			report.Mismatched++
		case unkeyed:
			report.Unkeyed++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// Per-link verdicts produced by the reconcile query.
const (
	verdictMismatch = "mismatch"
	verdictUnkeyed  = "unkeyed"
)

// Checks returns the standard audits over the staged dimensions: Provider,
// Location, Diagnosis (primary and secondary together) and Treatment.
func Checks() []Check {
	link := func(spec DerivedSpec) Link {
		return Link{Dimension: spec.Table.SQLName, KeyColumn: spec.KeyColumn, Attributes: spec.BusinessKey}
	}
	return []Check{
		{Name: "Provider", Links: []Link{link(ProviderSpec)}},
		{Name: "Location", Links: []Link{link(LocationSpec)}},
		{Name: "Diagnosis", Links: []Link{
			link(PrimaryDiagnosisSpec),
			link(SecondaryDiagnosisSpec),
		}},
		{Name: "Treatment", Links: []Link{link(TreatmentSpec)}},
	}
}

// ReconcileAll runs every check from Checks.
func ReconcileAll(ctx context.Context, st *Stage) ([]ReconciliationReport, error) {
	checks := Checks()
	reports := make([]ReconciliationReport, 0, len(checks))
	for _, c := range checks {
		r, err := Reconcile(ctx, st, c)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *r)
	}
	return reports, nil
}

// CompletenessReport compares the visit ids of the source and the fact.
type CompletenessReport struct {
	SourceVisits int
	FactVisits   int
	Missing      []relation.Value // in the source, not in the fact; sorted
	Extra        []relation.Value // in the fact, not in the source; sorted
}

// Complete reports whether both sides hold the same set of visit ids.
func (r *CompletenessReport) Complete() bool {
	return len(r.Missing) == 0 && len(r.Extra) == 0
}

// CheckCompleteness compares the distinct visit ids of the staged source
// and fact. A null visit_id counts as one distinct id.
func CheckCompleteness(ctx context.Context, st *Stage) (*CompletenessReport, error) {
	fact := model.FactVisit.SQLName
	report := &CompletenessReport{}
	for _, side := range []struct {
		from, minus string
		count       *int
		diff        *[]relation.Value
	}{
		{SourceTable, fact, &report.SourceVisits, &report.Missing},
		{fact, SourceTable, &report.FactVisits, &report.Extra},
	} {
		q, err := render(distinctVisitsQuery, struct{ Table string }{side.from})
		if err != nil {
			return nil, err
		}
		if *side.count, err = st.Count(ctx, q); err != nil {
			return nil, fmt.Errorf("completeness: %w", err)
		}
		q, err = render(visitsExceptQuery, struct{ From, Minus string }{side.from, side.minus})
		if err != nil {
			return nil, err
		}
		ids, err := st.Query(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("completeness: %w", err)
		}
		if *side.diff, err = ids.Column(VisitKey); err != nil {
			return nil, fmt.Errorf("completeness: %w", err)
		}
	}
	return report, nil
}

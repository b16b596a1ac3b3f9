package etl

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/gyeh/caremodel/internal/model"
	"github.com/gyeh/caremodel/internal/relation"
	"github.com/gyeh/caremodel/internal/source"
)

// IdentitySpec describes a dimension keyed by an identifier already present
// in the source.
type IdentitySpec struct {
	Table   model.Table
	Key     string
	Columns []string // source columns to keep, key included
	// DropNullKey discards rows whose key is null. Otherwise those rows
	// collapse into one dimension row with a null key.
	DropNullKey bool
}

// DerivedSpec describes a dimension whose integer key is assigned here, one
// per distinct business key.
type DerivedSpec struct {
	Table       model.Table
	KeyColumn   string
	BusinessKey []string
	// Attributes are extra descriptive columns carried alongside the
	// business key. They take part in the sort but not in deduplication.
	Attributes []string
}

// columns returns the business key followed by the extra attributes.
func (s DerivedSpec) columns() []string {
	return append(slices.Clone(s.BusinessKey), s.Attributes...)
}

// Identity dimensions.
var (
	PatientSpec = IdentitySpec{
		Table: model.DimPatient,
		Key:   "patient_id",
		Columns: []string{
			"patient_id", "patient_first_name", "patient_last_name", "patient_date_of_birth",
			"patient_gender", "patient_address_line1", "patient_address_line2", "patient_city",
			"patient_state", "patient_zip", "patient_phone", "patient_email",
		},
	}
	InsuranceSpec = IdentitySpec{
		Table:   model.DimInsurance,
		Key:     "insurance_id",
		Columns: model.DimInsurance.ColumnNames(),
	}
	BillingSpec = IdentitySpec{
		Table:   model.DimBilling,
		Key:     "billing_id",
		Columns: model.DimBilling.ColumnNames(),
	}
	PrescriptionSpec = IdentitySpec{
		Table:       model.DimPrescription,
		Key:         "prescription_id",
		Columns:     model.DimPrescription.ColumnNames(),
		DropNullKey: true,
	}
	LabOrderSpec = IdentitySpec{
		Table:       model.DimLabOrder,
		Key:         "lab_order_id",
		Columns:     model.DimLabOrder.ColumnNames(),
		DropNullKey: true,
	}
)

// Derived dimensions.
var (
	ProviderSpec = DerivedSpec{
		Table:       model.DimProvider,
		KeyColumn:   "provider_id",
		BusinessKey: []string{"doctor_name", "doctor_title", "doctor_department"},
	}
	LocationSpec = DerivedSpec{
		Table:       model.DimLocation,
		KeyColumn:   "location_id",
		BusinessKey: []string{"clinic_name", "room_number"},
	}
	PrimaryDiagnosisSpec = DerivedSpec{
		Table:       model.DimPrimaryDiagnosis,
		KeyColumn:   "primary_diagnosis_id",
		BusinessKey: []string{"primary_diagnosis_code", "primary_diagnosis_desc"},
	}
	SecondaryDiagnosisSpec = DerivedSpec{
		Table:       model.DimSecondaryDiagnosis,
		KeyColumn:   "secondary_diagnosis_id",
		BusinessKey: []string{"secondary_diagnosis_code", "secondary_diagnosis_desc"},
	}
	TreatmentSpec = DerivedSpec{
		Table:       model.DimTreatment,
		KeyColumn:   "treatment_id",
		BusinessKey: []string{"treatment_code", "treatment_desc"},
	}
)

// DerivedSpecs lists the derived dimensions in fact-join order.
var DerivedSpecs = []DerivedSpec{
	ProviderSpec,
	LocationSpec,
	PrimaryDiagnosisSpec,
	SecondaryDiagnosisSpec,
	TreatmentSpec,
}

// BuildIdentityDimension selects spec.Columns from the staged source and
// keeps the first row in source order for each key. With status set, the
// staged table of that name is left-joined on the key to add StatusColumn.
func BuildIdentityDimension(ctx context.Context, st *Stage, spec IdentitySpec, status string) (relation.Relation, error) {
	q, err := render(identityDimensionQuery, struct {
		IdentitySpec
		StatusTable  string
		StatusColumn string
	}{spec, status, StatusColumn})
	if err != nil {
		return relation.Relation{}, err
	}
	return st.Query(ctx, q)
}

// BuildDerivedDimension builds a dimension with assigned keys:
//
//  1. select the business key and attributes, drop exact duplicates;
//  2. drop rows with a null business-key column;
//  3. keep the lowest row per business key;
//  4. number the rows from 1 in business-key order.
//
// The order is a total order over the distinct rows, so the keys depend
// only on the set of values in the source.
func BuildDerivedDimension(ctx context.Context, st *Stage, spec DerivedSpec) (relation.Relation, error) {
	q, err := render(derivedDimensionQuery, struct {
		DerivedSpec
		Columns []string
	}{spec, spec.columns()})
	if err != nil {
		return relation.Relation{}, err
	}
	return st.Query(ctx, q)
}

// Dimensions holds every built dimension relation.
type Dimensions struct {
	Patient            relation.Relation
	Insurance          relation.Relation
	Billing            relation.Relation
	Provider           relation.Relation
	Location           relation.Relation
	PrimaryDiagnosis   relation.Relation
	SecondaryDiagnosis relation.Relation
	Treatment          relation.Relation
	Prescription       relation.Relation
	LabOrder           relation.Relation
}

// Derived returns the relation built for one of the DerivedSpecs.
func (d *Dimensions) Derived(spec DerivedSpec) (relation.Relation, error) {
	switch spec.Table.Name {
	case model.DimProvider.Name:
		return d.Provider, nil
	case model.DimLocation.Name:
		return d.Location, nil
	case model.DimPrimaryDiagnosis.Name:
		return d.PrimaryDiagnosis, nil
	case model.DimSecondaryDiagnosis.Name:
		return d.SecondaryDiagnosis, nil
	case model.DimTreatment.Name:
		return d.Treatment, nil
	}
	return relation.Relation{}, fmt.Errorf("no derived dimension %q", spec.Table.Name)
}

// Outputs returns the dimensions paired with their tables, in write order.
func (d *Dimensions) Outputs() []Output {
	return []Output{
		{Table: model.DimPatient, Rows: d.Patient},
		{Table: model.DimInsurance, Rows: d.Insurance},
		{Table: model.DimBilling, Rows: d.Billing},
		{Table: model.DimProvider, Rows: d.Provider},
		{Table: model.DimLocation, Rows: d.Location},
		{Table: model.DimPrimaryDiagnosis, Rows: d.PrimaryDiagnosis},
		{Table: model.DimSecondaryDiagnosis, Rows: d.SecondaryDiagnosis},
		{Table: model.DimTreatment, Rows: d.Treatment},
		{Table: model.DimPrescription, Rows: d.Prescription},
		{Table: model.DimLabOrder, Rows: d.LabOrder},
	}
}

// Output is one finished table ready for a sink.
type Output struct {
	Table model.Table
	Rows  relation.Relation
}

// BuildDimensions derives patient status, then builds all ten dimensions
// concurrently from the staged source. The first failing build cancels the
// rest. Every finished dimension is staged under its SQL name, in write
// order, for the fact build and the audits.
func BuildDimensions(ctx context.Context, rc *RunContext) (*Dimensions, error) {
	st := rc.Stage
	status, err := DeriveStatus(ctx, st, StatusSpec{
		GroupKey:   "patient_id",
		DateColumn: source.VisitDateColumn,
		Cutoff:     rc.Cutoff,
	})
	if err != nil {
		return nil, fmt.Errorf("derive status: %w", err)
	}
	if err := st.Put(ctx, statusTable, status); err != nil {
		return nil, err
	}

	var d Dimensions
	g, gctx := errgroup.WithContext(ctx)

	build := func(table model.Table, dst *relation.Relation, fn func(context.Context) (relation.Relation, error)) {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			start := time.Now()
			r, err := fn(gctx)
			if err != nil {
				return fmt.Errorf("build %s: %w", table.Name, err)
			}
			if got := r.Columns(); !slices.Equal(got, table.ColumnNames()) {
				return fmt.Errorf("build %s: got columns %v", table.Name, got)
			}
			*dst = r
			logBuilt(rc.Log, table.Name, r.Len(), time.Since(start))
			return nil
		})
	}

	build(model.DimPatient, &d.Patient, func(ctx context.Context) (relation.Relation, error) {
		return BuildIdentityDimension(ctx, st, PatientSpec, statusTable)
	})
	for _, item := range []struct {
		spec IdentitySpec
		dst  *relation.Relation
	}{
		{InsuranceSpec, &d.Insurance},
		{BillingSpec, &d.Billing},
		{PrescriptionSpec, &d.Prescription},
		{LabOrderSpec, &d.LabOrder},
	} {
		build(item.spec.Table, item.dst, func(ctx context.Context) (relation.Relation, error) {
			return BuildIdentityDimension(ctx, st, item.spec, "")
		})
	}
	for _, item := range []struct {
		spec DerivedSpec
		dst  *relation.Relation
	}{
		{ProviderSpec, &d.Provider},
		{LocationSpec, &d.Location},
		{PrimaryDiagnosisSpec, &d.PrimaryDiagnosis},
		{SecondaryDiagnosisSpec, &d.SecondaryDiagnosis},
		{TreatmentSpec, &d.Treatment},
	} {
		build(item.spec.Table, item.dst, func(ctx context.Context) (relation.Relation, error) {
			return BuildDerivedDimension(ctx, st, item.spec)
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, o := range d.Outputs() {
		if err := st.Put(ctx, o.Table.SQLName, o.Rows); err != nil {
			return nil, err
		}
	}
	return &d, nil
}

func logBuilt(log zerolog.Logger, name string, rows int, dur time.Duration) {
	log.Info().
		Str("table", name).
		Int("rows", rows).
		Dur("duration", dur).
		Msg("dimension built")
}

package etl

import (
	"context"
	"errors"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/gyeh/caremodel/internal/model"
	"github.com/gyeh/caremodel/internal/normalize"
	"github.com/gyeh/caremodel/internal/relation"
	"github.com/gyeh/caremodel/internal/source"
)

const fixture = "../../testdata/legacy_small.csv"

// openFixture loads the small legacy fixture into a RunContext.
func openFixture(t *testing.T) *RunContext {
	t.Helper()
	rc, err := Open(context.Background(), fixture, DefaultCutoff, zerolog.Nop())
	if err != nil {
		t.Fatalf("open fixture: %v", err)
	}
	t.Cleanup(rc.Close)
	return rc
}

// stageRows stages src as the source of a fresh RunContext.
func stageRows(t *testing.T, src relation.Relation) *RunContext {
	t.Helper()
	rc, err := NewRunContext(context.Background(), &source.Dataset{Rows: src}, DefaultCutoff, zerolog.Nop())
	if err != nil {
		t.Fatalf("stage rows: %v", err)
	}
	t.Cleanup(rc.Close)
	return rc
}

// buildFixture runs the dimension and fact phases over the fixture and
// stages the fact, as Run does.
func buildFixture(t *testing.T) (*RunContext, *Dimensions, relation.Relation) {
	t.Helper()
	rc := openFixture(t)
	dims, fact := buildStaged(t, rc)
	return rc, dims, fact
}

func buildStaged(t *testing.T, rc *RunContext) (*Dimensions, relation.Relation) {
	t.Helper()
	ctx := context.Background()
	dims, err := BuildDimensions(ctx, rc)
	if err != nil {
		t.Fatalf("BuildDimensions: %v", err)
	}
	fact, err := BuildFact(ctx, rc.Stage)
	if err != nil {
		t.Fatalf("BuildFact: %v", err)
	}
	if err := rc.Stage.Put(ctx, model.FactVisit.SQLName, fact); err != nil {
		t.Fatalf("stage fact: %v", err)
	}
	return dims, fact
}

// exec runs a statement against the stage, for corrupting staged tables.
func exec(t *testing.T, rc *RunContext, query string) {
	t.Helper()
	if _, err := rc.Stage.Exec(context.Background(), query); err != nil {
		t.Fatalf("%s: %v", query, err)
	}
}

// rows renders a relation's rows (without header) with NULL for nulls.
func rows(t *testing.T, r relation.Relation) [][]string {
	t.Helper()
	if err := r.Err(); err != nil {
		t.Fatalf("relation error: %v", err)
	}
	out := make([][]string, 0, r.Len())
	for i := 0; i < r.Len(); i++ {
		row := r.Row(i)
		line := make([]string, len(row))
		for j, v := range row {
			line[j] = v.String()
		}
		out = append(out, line)
	}
	return out
}

// column returns the string form of every value in col.
func column(t *testing.T, r relation.Relation, col string) []string {
	t.Helper()
	vals, err := r.Column(col)
	if err != nil {
		t.Fatalf("column %s: %v", col, err)
	}
	out := make([]string, len(vals))
	for i, v := range vals {
		out[i] = v.String()
	}
	return out
}

// factRow returns the fact row for visitID as a column→value map.
func factRow(t *testing.T, fact relation.Relation, visitID string) map[string]string {
	t.Helper()
	for i := 0; i < fact.Len(); i++ {
		if fact.Value(i, VisitKey).Str() == visitID {
			m := make(map[string]string)
			for _, c := range fact.Columns() {
				m[c] = fact.Value(i, c).String()
			}
			return m
		}
	}
	t.Fatalf("visit %s not in fact", visitID)
	return nil
}

func TestBuildDimensions_Fixture(t *testing.T) {
	_, dims, _ := buildFixture(t)

	t.Run("provider", func(t *testing.T) {
		want := [][]string{
			{"1", "Alice Smith", "MD", "Cardiology"},
			{"2", "Bob Jones", "DO", "Family Medicine"},
			{"3", "Carol White", "MD", "Neurology"},
		}
		if diff := cmp.Diff(want, rows(t, dims.Provider)); diff != "" {
			t.Errorf("DimProvider mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("location", func(t *testing.T) {
		want := [][]string{
			{"1", "Clinic A", "101"},
			{"2", "Clinic A", "102"},
			{"3", "Clinic B", "202"},
		}
		if diff := cmp.Diff(want, rows(t, dims.Location)); diff != "" {
			t.Errorf("DimLocation mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("diagnoses", func(t *testing.T) {
		wantPrimary := [][]string{
			{"1", "E78", "Hyperlipidemia"},
			{"2", "G43", "Migraine"},
			{"3", "I10", "Hypertension"},
			{"4", "J45", "Asthma"},
		}
		if diff := cmp.Diff(wantPrimary, rows(t, dims.PrimaryDiagnosis)); diff != "" {
			t.Errorf("DimPrimaryDiagnosis mismatch (-want +got):\n%s", diff)
		}
		wantSecondary := [][]string{
			{"1", "E11", "Type 2 diabetes"},
			{"2", "I10", "Hypertension"},
		}
		if diff := cmp.Diff(wantSecondary, rows(t, dims.SecondaryDiagnosis)); diff != "" {
			t.Errorf("DimSecondaryDiagnosis mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("identity_counts", func(t *testing.T) {
		want := map[string]int{
			"DimPatient":      4,
			"DimInsurance":    4,
			"DimBilling":      6,
			"DimTreatment":    4,
			"DimPrescription": 5,
			"DimLabOrder":     2,
		}
		got := make(map[string]int)
		for _, o := range dims.Outputs() {
			if _, ok := want[o.Table.Name]; ok {
				got[o.Table.Name] = o.Rows.Len()
			}
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("row counts mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("columns_follow_catalog", func(t *testing.T) {
		for _, o := range dims.Outputs() {
			if diff := cmp.Diff(o.Table.ColumnNames(), o.Rows.Columns()); diff != "" {
				t.Errorf("%s columns (-want +got):\n%s", o.Table.Name, diff)
			}
		}
	})

	t.Run("patient_status", func(t *testing.T) {
		got := map[string]string{}
		ids := column(t, dims.Patient, "patient_id")
		status := column(t, dims.Patient, StatusColumn)
		for i := range ids {
			got[ids[i]] = status[i]
		}
		want := map[string]string{
			"P001": StatusInactive, // latest visit 2021-12-31 09:00
			"P002": StatusActive,   // latest visit 2022-01-01
			"P003": "NULL",         // no parseable visit date
			"P004": StatusInactive,
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("status mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestDerivedDimensions_CountAndContiguousKeys(t *testing.T) {
	rc, dims, _ := buildFixture(t)
	src := rc.Source.Rows

	for _, spec := range DerivedSpecs {
		t.Run(spec.Table.Name, func(t *testing.T) {
			// Independent count of distinct, fully populated business keys.
			distinct := map[string]bool{}
			for i := 0; i < src.Len(); i++ {
				key, ok := "", true
				for _, c := range spec.BusinessKey {
					v := src.Value(i, c)
					if v.IsNull() {
						ok = false
						break
					}
					key += v.Str() + "\x00"
				}
				if ok {
					distinct[key] = true
				}
			}

			dim, err := dims.Derived(spec)
			if err != nil {
				t.Fatal(err)
			}
			if dim.Len() != len(distinct) {
				t.Errorf("rows: got %d, want %d", dim.Len(), len(distinct))
			}
			seen := map[string]bool{}
			for _, k := range column(t, dim, spec.KeyColumn) {
				seen[k] = true
			}
			for n := 1; n <= dim.Len(); n++ {
				if !seen[strconv.Itoa(n)] {
					t.Errorf("key %d missing from {1..%d}", n, dim.Len())
				}
			}
			if len(seen) != dim.Len() {
				t.Errorf("keys repeat: %d distinct over %d rows", len(seen), dim.Len())
			}
		})
	}
}

func TestBuildDerivedDimension_DeterministicAcrossInputOrder(t *testing.T) {
	ctx := context.Background()
	cols := []string{"clinic_name", "room_number"}
	a := stageRows(t, relation.New(cols, []relation.Row{
		{relation.String("Clinic B"), relation.String("1")},
		{relation.String("Clinic A"), relation.String("2")},
		{relation.String("Clinic A"), relation.String("1")},
	}))
	b := stageRows(t, relation.New(cols, []relation.Row{
		{relation.String("Clinic A"), relation.String("1")},
		{relation.String("Clinic A"), relation.String("2")},
		{relation.String("Clinic B"), relation.String("1")},
		{relation.String("Clinic A"), relation.String("1")},
		{relation.Null(), relation.String("9")},
	}))
	da, err := BuildDerivedDimension(ctx, a.Stage, LocationSpec)
	if err != nil {
		t.Fatal(err)
	}
	db, err := BuildDerivedDimension(ctx, b.Stage, LocationSpec)
	if err != nil {
		t.Fatal(err)
	}
	want := [][]string{
		{"1", "Clinic A", "1"},
		{"2", "Clinic A", "2"},
		{"3", "Clinic B", "1"},
	}
	if diff := cmp.Diff(want, rows(t, da)); diff != "" {
		t.Errorf("DimLocation (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(rows(t, da), rows(t, db)); diff != "" {
		t.Errorf("keys depend on input order (-a +b):\n%s", diff)
	}
}

func TestBuildDerivedDimension_Attributes(t *testing.T) {
	rc := stageRows(t, relation.New([]string{"code", "label"}, []relation.Row{
		{relation.String("B"), relation.String("beta")},
		{relation.String("A"), relation.String("zulu")},
		{relation.String("A"), relation.String("alpha")},
	}))
	spec := DerivedSpec{KeyColumn: "code_id", BusinessKey: []string{"code"}, Attributes: []string{"label"}}
	got, err := BuildDerivedDimension(context.Background(), rc.Stage, spec)
	if err != nil {
		t.Fatal(err)
	}
	// One row per business key; the lowest attribute tuple is kept.
	want := [][]string{{"1", "A", "alpha"}, {"2", "B", "beta"}}
	if diff := cmp.Diff(want, rows(t, got)); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildIdentityDimension_FirstRowWins(t *testing.T) {
	row := func(cols []string, id string, attr string) relation.Row {
		r := make(relation.Row, len(cols))
		if id != "" {
			r[0] = relation.String(id)
		}
		r[2] = relation.String(attr)
		return r
	}
	cases := []struct {
		name string
		spec IdentitySpec
		attr string
		want []string
	}{
		// A null insurance_id collapses into one dimension row of its own.
		{"null_key_kept", InsuranceSpec, "insurance_payer_name", []string{"Acme", "Orphan", "Beta"}},
		{"null_key_dropped", LabOrderSpec, "lab_name", []string{"Acme", "Beta"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cols := tc.spec.Columns
			rc := stageRows(t, relation.New(cols, []relation.Row{
				row(cols, "K1", "Acme"),
				row(cols, "", "Orphan"),
				row(cols, "K1", "Other"),
				row(cols, "", "Second orphan"),
				row(cols, "K2", "Beta"),
			}))
			got, err := BuildIdentityDimension(context.Background(), rc.Stage, tc.spec, "")
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tc.want, column(t, got, tc.attr)); diff != "" {
				t.Errorf("rows (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff(tc.spec.Columns, got.Columns()); diff != "" {
				t.Errorf("columns (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDeriveStatus_Boundary(t *testing.T) {
	ctx := context.Background()
	// Offsets are dropped, not converted: this visit happened on
	// 2021-12-31 local time even though it is 2022-01-01 in UTC.
	zoned, ok := normalize.CanonicalTimestamp("2021-12-31T22:00:00-05:00")
	if !ok {
		t.Fatal("zoned timestamp did not parse")
	}
	rc := stageRows(t, relation.New([]string{"patient_id", "visit_date"}, []relation.Row{
		{relation.String("P1"), relation.String("2021-12-31 00:00:00")},
		{relation.String("P2"), relation.String("2021-06-01 08:00:00")},
		{relation.String("P2"), relation.String("2022-01-01 00:00:00")},
		{relation.String("P3"), relation.String("2021-12-31 23:59:59")},
		{relation.String("P4"), relation.Null()},
		{relation.Null(), relation.String("2023-01-01 00:00:00")},
		{relation.String("P5"), relation.String(zoned)},
	}))
	spec := StatusSpec{GroupKey: "patient_id", DateColumn: "visit_date", Cutoff: DefaultCutoff}

	t.Run("default_cutoff", func(t *testing.T) {
		got, err := DeriveStatus(ctx, rc.Stage, spec)
		if err != nil {
			t.Fatal(err)
		}
		want := [][]string{
			{"P1", StatusInactive},
			{"P2", StatusActive},
			{"P3", StatusInactive},
			{"P5", StatusInactive},
		}
		if diff := cmp.Diff(want, rows(t, got)); diff != "" {
			t.Errorf("status mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("configured_cutoff", func(t *testing.T) {
		cutoff, err := ParseCutoff("2021-06-30")
		if err != nil {
			t.Fatal(err)
		}
		spec := spec
		spec.Cutoff = cutoff
		got, err := DeriveStatus(ctx, rc.Stage, spec)
		if err != nil {
			t.Fatal(err)
		}
		want := []string{StatusActive, StatusActive, StatusActive, StatusActive}
		if diff := cmp.Diff(want, column(t, got, StatusColumn)); diff != "" {
			t.Errorf("status mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestParseCutoff(t *testing.T) {
	got, err := ParseCutoff("")
	if err != nil || !got.Equal(DefaultCutoff) {
		t.Errorf("empty: got %v, %v", got, err)
	}
	if _, err := ParseCutoff("someday"); err == nil {
		t.Error("expected error for invalid cutoff")
	}
}

func TestBuildFact(t *testing.T) {
	rc, _, fact := buildFixture(t)

	t.Run("one_row_per_visit", func(t *testing.T) {
		want := []string{"V001", "V002", "V003", "V004", "V005", "V006"}
		if diff := cmp.Diff(want, column(t, fact, VisitKey)); diff != "" {
			t.Errorf("visit ids (-want +got):\n%s", diff)
		}
		c, err := CheckCompleteness(context.Background(), rc.Stage)
		if err != nil {
			t.Fatal(err)
		}
		if !c.Complete() || c.SourceVisits != 6 || c.FactVisits != 6 {
			t.Errorf("completeness: %+v", c)
		}
	})

	t.Run("resolved_keys", func(t *testing.T) {
		want := map[string]string{
			"visit_id":               "V001",
			"patient_id":             "P001",
			"insurance_id":           "INS1",
			"billing_id":             "B001",
			"location_id":            "1",
			"provider_id":            "1",
			"primary_diagnosis_id":   "3",
			"secondary_diagnosis_id": "1",
			"treatment_id":           "1",
			"prescription_id":        "RX1",
			"lab_order_id":           "LAB1",
			"visit_date":             "2021-03-15 10:00:00",
			"visit_type":             "Outpatient",
		}
		if diff := cmp.Diff(want, factRow(t, fact, "V001")); diff != "" {
			t.Errorf("V001 (-want +got):\n%s", diff)
		}
	})

	t.Run("unmatched_keys_are_null_not_dropped", func(t *testing.T) {
		if got := factRow(t, fact, "V004")["provider_id"]; got != "NULL" {
			t.Errorf("V004 provider_id: got %s, want NULL", got)
		}
		if got := factRow(t, fact, "V005")["location_id"]; got != "NULL" {
			t.Errorf("V005 location_id: got %s, want NULL", got)
		}
		if got := factRow(t, fact, "V002")["secondary_diagnosis_id"]; got != "NULL" {
			t.Errorf("V002 secondary_diagnosis_id: got %s, want NULL", got)
		}
	})

	t.Run("forced_null_doctor_keeps_fact_row", func(t *testing.T) {
		rc := openFixture(t)
		exec(t, rc, "UPDATE source SET doctor_name = NULL")
		dims, f := buildStaged(t, rc)
		if f.Len() != 6 {
			t.Errorf("fact rows: got %d, want 6", f.Len())
		}
		if dims.Provider.Len() != 0 {
			t.Errorf("provider rows: got %d, want 0", dims.Provider.Len())
		}
		for _, v := range column(t, f, "provider_id") {
			if v != "NULL" {
				t.Errorf("provider_id: got %s, want NULL", v)
			}
		}
	})
}

func TestReconcile_CleanRun(t *testing.T) {
	rc, _, _ := buildFixture(t)
	reports, err := ReconcileAll(context.Background(), rc.Stage)
	if err != nil {
		t.Fatal(err)
	}

	type summary struct{ Checked, Mismatched, Unkeyed int }
	got := map[string]summary{}
	for _, r := range reports {
		got[r.Name] = summary{r.Checked, r.Mismatched, r.Unkeyed}
	}
	// V006 appears twice in the source, so every check sees 7 rows.
	want := map[string]summary{
		"Provider":  {7, 0, 1},
		"Location":  {7, 0, 1},
		"Diagnosis": {7, 0, 4},
		"Treatment": {7, 0, 0},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("reports (-want +got):\n%s", diff)
	}
}

func TestReconcile_DetectsCorruption(t *testing.T) {
	ctx := context.Background()
	providerCheck := Check{Name: "Provider", Links: []Link{
		{Dimension: model.DimProvider.SQLName, KeyColumn: "provider_id", Attributes: ProviderSpec.BusinessKey},
	}}

	t.Run("stale_dimension_attribute", func(t *testing.T) {
		rc, _, _ := buildFixture(t)
		exec(t, rc, "UPDATE dim_provider SET doctor_name = 'Carol Whyte' WHERE provider_id = '3'")
		r, err := Reconcile(ctx, rc.Stage, providerCheck)
		if err != nil {
			t.Fatal(err)
		}
		if r.Mismatched != 1 || len(r.Mismatches) != 1 {
			t.Fatalf("mismatches: got %d, want 1", r.Mismatched)
		}
		m := r.Mismatches[0]
		if m.VisitID.Str() != "V005" || m.Keys[0].Str() != "3" {
			t.Errorf("mismatch row: visit=%v key=%v", m.VisitID, m.Keys[0])
		}
		if m.Dimension[0].Str() != "Carol Whyte" || m.Source[0].Str() != "Carol White" {
			t.Errorf("mismatch values: dim=%v src=%v", m.Dimension, m.Source)
		}
		if diff := cmp.Diff(ProviderSpec.BusinessKey, r.Attributes); diff != "" {
			t.Errorf("attributes (-want +got):\n%s", diff)
		}
	})

	t.Run("null_key_over_complete_source_key", func(t *testing.T) {
		rc, _, _ := buildFixture(t)
		exec(t, rc, "UPDATE fact_visit SET treatment_id = NULL WHERE visit_id = 'V003'")
		r, err := Reconcile(ctx, rc.Stage, Check{Name: "Treatment", Links: []Link{
			{Dimension: model.DimTreatment.SQLName, KeyColumn: "treatment_id", Attributes: TreatmentSpec.BusinessKey},
		}})
		if err != nil {
			t.Fatal(err)
		}
		if r.Mismatched != 1 || r.Mismatches[0].VisitID.Str() != "V003" {
			t.Errorf("got %d mismatches: %+v", r.Mismatched, r.Mismatches)
		}
		if m := r.Mismatches[0]; !m.Keys[0].IsNull() || !m.Dimension[0].IsNull() || m.Source[0].IsNull() {
			t.Errorf("expected null key, null dimension and set source values: %+v", m)
		}
	})

	t.Run("joint_diagnosis_secondary_only", func(t *testing.T) {
		rc, _, _ := buildFixture(t)
		exec(t, rc, "UPDATE dim_secondary_diagnosis SET secondary_diagnosis_desc = 'Hypotension' WHERE secondary_diagnosis_id = '2'")
		reports, err := ReconcileAll(ctx, rc.Stage)
		if err != nil {
			t.Fatal(err)
		}
		for _, r := range reports {
			want := 0
			if r.Name == "Diagnosis" {
				want = 1
			}
			if r.Mismatched != want {
				t.Errorf("%s: got %d mismatches, want %d", r.Name, r.Mismatched, want)
			}
			if r.Name == "Diagnosis" && len(r.Mismatches) == 1 && len(r.Mismatches[0].Keys) != 2 {
				t.Errorf("Diagnosis keys: %v", r.Mismatches[0].Keys)
			}
		}
	})

	t.Run("missing_visit", func(t *testing.T) {
		rc, _, _ := buildFixture(t)
		exec(t, rc, "DELETE FROM fact_visit WHERE visit_id = 'V003'")
		c, err := CheckCompleteness(ctx, rc.Stage)
		if err != nil {
			t.Fatal(err)
		}
		if c.Complete() || len(c.Missing) != 1 || c.Missing[0].Str() != "V003" || len(c.Extra) != 0 {
			t.Errorf("completeness: %+v", c)
		}
	})

	t.Run("extra_and_untraceable_visits", func(t *testing.T) {
		rc, _, _ := buildFixture(t)
		exec(t, rc, "INSERT INTO fact_visit (visit_id) VALUES ('V999'), (NULL)")
		c, err := CheckCompleteness(ctx, rc.Stage)
		if err != nil {
			t.Fatal(err)
		}
		// A null id counts once and sorts first.
		if c.FactVisits != 8 || len(c.Extra) != 2 || !c.Extra[0].IsNull() || c.Extra[1].Str() != "V999" {
			t.Errorf("completeness: %+v", c)
		}
		// The null visit cannot be traced; V999 has no source row, so its
		// null key is unkeyed rather than a mismatch.
		r, err := Reconcile(ctx, rc.Stage, providerCheck)
		if err != nil {
			t.Fatal(err)
		}
		if r.Checked != 8 || r.Mismatched != 0 || r.Unkeyed != 2 {
			t.Errorf("provider: checked=%d mismatched=%d unkeyed=%d", r.Checked, r.Mismatched, r.Unkeyed)
		}
	})
}

func TestReconcile_NoLinks(t *testing.T) {
	if _, err := Reconcile(context.Background(), nil, Check{Name: "empty"}); err == nil {
		t.Fatal("expected error for a check without links")
	}
}

// recordingWriter remembers the tables written to it.
type recordingWriter struct {
	tables []string
	failOn string
}

func (w *recordingWriter) Write(_ context.Context, table model.Table, _ relation.Relation) error {
	if table.Name == w.failOn {
		return errors.New("disk full")
	}
	w.tables = append(w.tables, table.Name)
	return nil
}

func TestRun(t *testing.T) {
	t.Run("writes_every_table_in_order", func(t *testing.T) {
		rc := openFixture(t)
		w := &recordingWriter{}
		res, err := Run(context.Background(), rc, w)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		var want []string
		for _, tbl := range model.AllTables {
			want = append(want, tbl.Name)
		}
		if diff := cmp.Diff(want, w.tables); diff != "" {
			t.Errorf("write order (-want +got):\n%s", diff)
		}

		s := res.Summary
		if s.RowsRead != 7 || s.DistinctVisits != 6 || s.RowsByTable["FactVisit"] != 6 {
			t.Errorf("summary counts: %+v", s)
		}
		if s.ChecksRun != 4 || s.RowsChecked != 28 || s.Mismatches != 0 || s.UnkeyedRows != 6 {
			t.Errorf("summary reconciliation: %+v", s)
		}
		if !s.Clean() {
			t.Error("expected a clean run")
		}
		if s.RunID != rc.RunID.String() || len(s.InputSHA256) != 64 {
			t.Errorf("summary identity: %+v", s)
		}
	})

	t.Run("sink_failure_is_write_phase_error", func(t *testing.T) {
		rc := openFixture(t)
		w := &recordingWriter{failOn: "DimProvider"}
		_, err := Run(context.Background(), rc, w)
		var perr *PipelineError
		if !errors.As(err, &perr) || perr.Phase != "write" {
			t.Fatalf("expected write PipelineError, got %v", err)
		}
		// Tables before the failing one stay written.
		if diff := cmp.Diff([]string{"DimPatient", "DimInsurance", "DimBilling"}, w.tables); diff != "" {
			t.Errorf("written before failure (-want +got):\n%s", diff)
		}
	})

	t.Run("cancelled_context", func(t *testing.T) {
		rc := openFixture(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := Run(ctx, rc, nil)
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	})

	t.Run("missing_input_is_load_error", func(t *testing.T) {
		_, err := Open(context.Background(), t.TempDir()+"/absent.csv", DefaultCutoff, zerolog.Nop())
		var perr *PipelineError
		if !errors.As(err, &perr) || perr.Phase != "load" {
			t.Fatalf("expected load PipelineError, got %v", err)
		}
	})
}

func TestRun_Idempotent(t *testing.T) {
	fingerprints := func() map[string]string {
		rc := openFixture(t)
		res, err := Run(context.Background(), rc, nil)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		out := map[string]string{}
		for _, o := range res.Outputs() {
			out[o.Table.Name] = o.Rows.Fingerprint()
		}
		return out
	}
	first := fingerprints()
	second := fingerprints()
	if len(first) != len(model.AllTables) {
		t.Fatalf("tables: got %d, want %d", len(first), len(model.AllTables))
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("outputs differ between runs (-first +second):\n%s", diff)
	}
}

func TestPlan(t *testing.T) {
	ds, err := source.Load(fixture)
	if err != nil {
		t.Fatal(err)
	}
	stats, err := Plan(context.Background(), ds, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Rows != 7 || stats.DistinctVisits != 6 {
		t.Errorf("rows=%d visits=%d", stats.Rows, stats.DistinctVisits)
	}
	want := map[string]int{
		"DimProvider":           1,
		"DimLocation":           1,
		"DimPrimaryDiagnosis":   0,
		"DimSecondaryDiagnosis": 4,
		"DimTreatment":          0,
	}
	if diff := cmp.Diff(want, stats.Unkeyable); diff != "" {
		t.Errorf("unkeyable (-want +got):\n%s", diff)
	}
	wantMissing := map[string]int{
		"DimPatient":      0,
		"DimInsurance":    0,
		"DimBilling":      0,
		"DimPrescription": 1,
		"DimLabOrder":     5,
	}
	if diff := cmp.Diff(wantMissing, stats.MissingIdentity); diff != "" {
		t.Errorf("missing identity (-want +got):\n%s", diff)
	}
}

func TestRunContext_Close(t *testing.T) {
	ds := &source.Dataset{Rows: relation.New([]string{VisitKey}, nil)}
	rc, err := NewRunContext(context.Background(), ds, time.Time{}, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	dir := rc.Stage.dir
	rc.Close()
	rc.Close()
	if rc.Source != nil || rc.Stage != nil {
		t.Error("Close should release the source and the stage")
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("stage dir survived Close: %v", err)
	}
}

package model

// Kind is the logical type of an output column. Relations carry every value
// as text; sinks use Kind to pick a physical type.
type Kind int

const (
	Text Kind = iota
	Int
	Numeric
	Date
	Timestamp
)

func (k Kind) String() string {
	switch k {
	case Int:
		return "int"
	case Numeric:
		return "numeric"
	case Date:
		return "date"
	case Timestamp:
		return "timestamp"
	default:
		return "text"
	}
}

// Column is one typed column of an output table.
type Column struct {
	Name string
	Kind Kind
}

// Table describes one output table of the dimensional model.
type Table struct {
	Name    string // artifact name, e.g. "DimProvider"
	SQLName string // warehouse table name, e.g. "dim_provider"
	Columns []Column
}

// ColumnNames returns the table's column names in order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

func text(names ...string) []Column {
	cols := make([]Column, len(names))
	for i, n := range names {
		cols[i] = Column{Name: n, Kind: Text}
	}
	return cols
}

func cols(groups ...[]Column) []Column {
	var out []Column
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func col(name string, kind Kind) []Column {
	return []Column{{Name: name, Kind: kind}}
}

// Output tables, in the order they are built and written.
var (
	DimPatient = Table{Name: "DimPatient", SQLName: "dim_patient", Columns: cols(
		text("patient_id", "patient_first_name", "patient_last_name"),
		col("patient_date_of_birth", Date),
		text("patient_gender", "patient_address_line1", "patient_address_line2",
			"patient_city", "patient_state", "patient_zip", "patient_phone",
			"patient_email", "patient_status"),
	)}
	DimInsurance = Table{Name: "DimInsurance", SQLName: "dim_insurance", Columns: text(
		"insurance_id", "patient_id", "insurance_payer_name", "insurance_policy_number",
		"insurance_group_number", "insurance_plan_type",
	)}
	DimBilling = Table{Name: "DimBilling", SQLName: "dim_billing", Columns: cols(
		text("billing_id", "insurance_id"),
		col("billing_total_charge", Numeric),
		col("billing_amount_paid", Numeric),
		col("billing_date", Date),
		text("billing_payment_status"),
	)}
	DimProvider = Table{Name: "DimProvider", SQLName: "dim_provider", Columns: cols(
		col("provider_id", Int),
		text("doctor_name", "doctor_title", "doctor_department"),
	)}
	DimLocation = Table{Name: "DimLocation", SQLName: "dim_location", Columns: cols(
		col("location_id", Int),
		text("clinic_name", "room_number"),
	)}
	DimPrimaryDiagnosis = Table{Name: "DimPrimaryDiagnosis", SQLName: "dim_primary_diagnosis", Columns: cols(
		col("primary_diagnosis_id", Int),
		text("primary_diagnosis_code", "primary_diagnosis_desc"),
	)}
	DimSecondaryDiagnosis = Table{Name: "DimSecondaryDiagnosis", SQLName: "dim_secondary_diagnosis", Columns: cols(
		col("secondary_diagnosis_id", Int),
		text("secondary_diagnosis_code", "secondary_diagnosis_desc"),
	)}
	DimTreatment = Table{Name: "DimTreatment", SQLName: "dim_treatment", Columns: cols(
		col("treatment_id", Int),
		text("treatment_code", "treatment_desc"),
	)}
	DimPrescription = Table{Name: "DimPrescription", SQLName: "dim_prescription", Columns: cols(
		text("prescription_id", "prescription_drug_name", "prescription_dosage", "prescription_frequency"),
		col("prescription_duration_days", Int),
	)}
	DimLabOrder = Table{Name: "DimLabOrder", SQLName: "dim_lab_order", Columns: cols(
		text("lab_order_id", "lab_test_code", "lab_name", "lab_result_value", "lab_result_units"),
		col("lab_result_date", Date),
	)}
	FactVisit = Table{Name: "FactVisit", SQLName: "fact_visit", Columns: cols(
		text("visit_id", "patient_id", "insurance_id", "billing_id"),
		col("location_id", Int),
		col("provider_id", Int),
		col("primary_diagnosis_id", Int),
		col("secondary_diagnosis_id", Int),
		col("treatment_id", Int),
		text("prescription_id", "lab_order_id"),
		col("visit_date", Timestamp),
		text("visit_type"),
	)}
)

// AllTables lists every output table, dimensions first, fact last.
var AllTables = []Table{
	DimPatient,
	DimInsurance,
	DimBilling,
	DimProvider,
	DimLocation,
	DimPrimaryDiagnosis,
	DimSecondaryDiagnosis,
	DimTreatment,
	DimPrescription,
	DimLabOrder,
	FactVisit,
}


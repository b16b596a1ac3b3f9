package model

// LegacyRecord mirrors one row of the flat legacy visit export. Every field is
// nullable; an empty CSV cell or a Parquet null both map to nil.
type LegacyRecord struct {
	// Patient
	PatientID           *string `parquet:"patient_id,optional"`
	PatientFirstName    *string `parquet:"patient_first_name,optional"`
	PatientLastName     *string `parquet:"patient_last_name,optional"`
	PatientDateOfBirth  *string `parquet:"patient_date_of_birth,optional"`
	PatientGender       *string `parquet:"patient_gender,optional"`
	PatientAddressLine1 *string `parquet:"patient_address_line1,optional"`
	PatientAddressLine2 *string `parquet:"patient_address_line2,optional"`
	PatientCity         *string `parquet:"patient_city,optional"`
	PatientState        *string `parquet:"patient_state,optional"`
	PatientZip          *string `parquet:"patient_zip,optional"`
	PatientPhone        *string `parquet:"patient_phone,optional"`
	PatientEmail        *string `parquet:"patient_email,optional"`

	// Insurance
	InsuranceID           *string `parquet:"insurance_id,optional"`
	InsurancePayerName    *string `parquet:"insurance_payer_name,optional"`
	InsurancePolicyNumber *string `parquet:"insurance_policy_number,optional"`
	InsuranceGroupNumber  *string `parquet:"insurance_group_number,optional"`
	InsurancePlanType     *string `parquet:"insurance_plan_type,optional"`

	// Billing (amounts kept as source text; typed at publish time)
	BillingID            *string `parquet:"billing_id,optional"`
	BillingTotalCharge   *string `parquet:"billing_total_charge,optional"`
	BillingAmountPaid    *string `parquet:"billing_amount_paid,optional"`
	BillingDate          *string `parquet:"billing_date,optional"`
	BillingPaymentStatus *string `parquet:"billing_payment_status,optional"`

	// Provider and location
	DoctorName       *string `parquet:"doctor_name,optional"`
	DoctorTitle      *string `parquet:"doctor_title,optional"`
	DoctorDepartment *string `parquet:"doctor_department,optional"`
	ClinicName       *string `parquet:"clinic_name,optional"`
	RoomNumber       *string `parquet:"room_number,optional"`

	// Diagnosis and treatment
	PrimaryDiagnosisCode   *string `parquet:"primary_diagnosis_code,optional"`
	PrimaryDiagnosisDesc   *string `parquet:"primary_diagnosis_desc,optional"`
	SecondaryDiagnosisCode *string `parquet:"secondary_diagnosis_code,optional"`
	SecondaryDiagnosisDesc *string `parquet:"secondary_diagnosis_desc,optional"`
	TreatmentCode          *string `parquet:"treatment_code,optional"`
	TreatmentDesc          *string `parquet:"treatment_desc,optional"`

	// Prescription
	PrescriptionID           *string `parquet:"prescription_id,optional"`
	PrescriptionDrugName     *string `parquet:"prescription_drug_name,optional"`
	PrescriptionDosage       *string `parquet:"prescription_dosage,optional"`
	PrescriptionFrequency    *string `parquet:"prescription_frequency,optional"`
	PrescriptionDurationDays *string `parquet:"prescription_duration_days,optional"`

	// Lab
	LabOrderID     *string `parquet:"lab_order_id,optional"`
	LabTestCode    *string `parquet:"lab_test_code,optional"`
	LabName        *string `parquet:"lab_name,optional"`
	LabResultValue *string `parquet:"lab_result_value,optional"`
	LabResultUnits *string `parquet:"lab_result_units,optional"`
	LabResultDate  *string `parquet:"lab_result_date,optional"`

	// Visit
	VisitID       *string `parquet:"visit_id,optional"`
	VisitDatetime *string `parquet:"visit_datetime,optional"`
	VisitType     *string `parquet:"visit_type,optional"`
}

// SourceColumns returns the legacy column names in canonical order. The order
// matches Fields.
func SourceColumns() []string {
	return []string{
		"patient_id",
		"patient_first_name",
		"patient_last_name",
		"patient_date_of_birth",
		"patient_gender",
		"patient_address_line1",
		"patient_address_line2",
		"patient_city",
		"patient_state",
		"patient_zip",
		"patient_phone",
		"patient_email",
		"insurance_id",
		"insurance_payer_name",
		"insurance_policy_number",
		"insurance_group_number",
		"insurance_plan_type",
		"billing_id",
		"billing_total_charge",
		"billing_amount_paid",
		"billing_date",
		"billing_payment_status",
		"doctor_name",
		"doctor_title",
		"doctor_department",
		"clinic_name",
		"room_number",
		"primary_diagnosis_code",
		"primary_diagnosis_desc",
		"secondary_diagnosis_code",
		"secondary_diagnosis_desc",
		"treatment_code",
		"treatment_desc",
		"prescription_id",
		"prescription_drug_name",
		"prescription_dosage",
		"prescription_frequency",
		"prescription_duration_days",
		"lab_order_id",
		"lab_test_code",
		"lab_name",
		"lab_result_value",
		"lab_result_units",
		"lab_result_date",
		"visit_id",
		"visit_datetime",
		"visit_type",
	}
}

// Fields returns pointers to every field in SourceColumns order, so callers
// can read or populate a record positionally.
func (r *LegacyRecord) Fields() []**string {
	return []**string{
		&r.PatientID,
		&r.PatientFirstName,
		&r.PatientLastName,
		&r.PatientDateOfBirth,
		&r.PatientGender,
		&r.PatientAddressLine1,
		&r.PatientAddressLine2,
		&r.PatientCity,
		&r.PatientState,
		&r.PatientZip,
		&r.PatientPhone,
		&r.PatientEmail,
		&r.InsuranceID,
		&r.InsurancePayerName,
		&r.InsurancePolicyNumber,
		&r.InsuranceGroupNumber,
		&r.InsurancePlanType,
		&r.BillingID,
		&r.BillingTotalCharge,
		&r.BillingAmountPaid,
		&r.BillingDate,
		&r.BillingPaymentStatus,
		&r.DoctorName,
		&r.DoctorTitle,
		&r.DoctorDepartment,
		&r.ClinicName,
		&r.RoomNumber,
		&r.PrimaryDiagnosisCode,
		&r.PrimaryDiagnosisDesc,
		&r.SecondaryDiagnosisCode,
		&r.SecondaryDiagnosisDesc,
		&r.TreatmentCode,
		&r.TreatmentDesc,
		&r.PrescriptionID,
		&r.PrescriptionDrugName,
		&r.PrescriptionDosage,
		&r.PrescriptionFrequency,
		&r.PrescriptionDurationDays,
		&r.LabOrderID,
		&r.LabTestCode,
		&r.LabName,
		&r.LabResultValue,
		&r.LabResultUnits,
		&r.LabResultDate,
		&r.VisitID,
		&r.VisitDatetime,
		&r.VisitType,
	}
}

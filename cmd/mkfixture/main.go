// mkfixture writes a synthetic legacy visit export for demos and load tests.
// Patients get one or more visits; providers, clinics, diagnoses and
// treatments come from small pools so the derived dimensions deduplicate.
// Usage: go run ./cmd/mkfixture --out testdata/legacy_synthetic.csv --patients 500 --seed 7
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/parquet-go/parquet-go"

	"github.com/gyeh/caremodel/internal/model"
)

type code struct{ code, desc string }

var (
	diagnoses = []code{
		{"I10", "Hypertension"}, {"E11", "Type 2 diabetes"}, {"J45", "Asthma"},
		{"E78", "Hyperlipidemia"}, {"G43", "Migraine"}, {"M54", "Back pain"},
		{"F41", "Anxiety disorder"}, {"K21", "Gastro-esophageal reflux"},
	}
	treatments = []code{
		{"T100", "Electrocardiogram"}, {"T200", "Inhaler training"}, {"T300", "Statin therapy"},
		{"T400", "MRI brain"}, {"T500", "Physical therapy"}, {"T600", "Counseling"},
	}
	labs = []code{
		{"HBA1C", "Hemoglobin A1c"}, {"LIPID", "Lipid panel"}, {"CBC", "Complete blood count"},
		{"TSH", "Thyroid stimulating hormone"},
	}
	departments = []string{"Cardiology", "Family Medicine", "Neurology", "Pulmonology", "Orthopedics"}
	titles      = []string{"MD", "DO", "NP", "PA"}
	payers      = []string{"Acme Health", "Blue Shield", "United Care", "Harbor Mutual"}
	planTypes   = []string{"PPO", "HMO", "EPO", "POS"}
	visitTypes  = []string{"Outpatient", "Inpatient", "Emergency", "Telehealth"}
	payStatus   = []string{"Paid", "Partial", "Pending", "Denied"}
	frequencies = []string{"Daily", "Twice daily", "As needed", "Weekly"}
)

type provider struct{ name, title, dept string }

type clinic struct{ name, room string }

func main() {
	out := flag.String("out", "testdata/legacy_synthetic.csv", "output file (.csv or .parquet)")
	patients := flag.Int("patients", 200, "number of patients")
	maxVisits := flag.Int("max-visits", 4, "max visits per patient")
	seed := flag.Uint64("seed", 1, "random seed; the same seed gives the same file")
	nullRate := flag.Float64("null-rate", 0.05, "probability that an optional cell is left empty")
	dupRate := flag.Float64("dup-rate", 0.02, "probability that a row is emitted twice")
	flag.Parse()

	f := gofakeit.New(*seed)
	g := &generator{f: f, nullRate: *nullRate}
	g.providers = make([]provider, 12)
	for i := range g.providers {
		g.providers[i] = provider{f.Name(), f.RandomString(titles), f.RandomString(departments)}
	}
	g.clinics = make([]clinic, 8)
	for i := range g.clinics {
		g.clinics[i] = clinic{f.Company() + " Clinic", f.Numerify("#0#")}
	}

	var records []model.LegacyRecord
	visit := 0
	for p := 1; p <= *patients; p++ {
		pt := g.patient(p)
		visits := f.Number(1, *maxVisits)
		for v := 0; v < visits; v++ {
			visit++
			rec := g.visit(pt, visit)
			records = append(records, rec)
			if f.Float64() < *dupRate {
				records = append(records, rec)
			}
		}
	}

	var err error
	if strings.EqualFold(filepath.Ext(*out), ".parquet") {
		err = writeParquet(*out, records)
	} else {
		err = writeCSV(*out, records)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "write %s: %v\n", *out, err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %d rows (%d patients, %d visits) to %s\n", len(records), *patients, visit, *out)
}

type generator struct {
	f         *gofakeit.Faker
	nullRate  float64
	providers []provider
	clinics   []clinic
}

// opt returns s, or nil with probability nullRate.
func (g *generator) opt(s string) *string {
	if g.f.Float64() < g.nullRate {
		return nil
	}
	return &s
}

func str(s string) *string { return &s }

func (g *generator) patient(n int) model.LegacyRecord {
	f := g.f
	first, last := f.FirstName(), f.LastName()
	dob := f.DateRange(time.Date(1940, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2015, 1, 1, 0, 0, 0, 0, time.UTC))
	return model.LegacyRecord{
		PatientID:             str(fmt.Sprintf("P%05d", n)),
		PatientFirstName:      str(first),
		PatientLastName:       str(last),
		PatientDateOfBirth:    g.opt(dob.Format("2006-01-02")),
		PatientGender:         g.opt(f.RandomString([]string{"F", "M", "X"})),
		PatientAddressLine1:   g.opt(f.Street()),
		PatientAddressLine2:   g.opt(f.Numerify("Apt ##")),
		PatientCity:           g.opt(f.City()),
		PatientState:          g.opt(f.StateAbr()),
		PatientZip:            g.opt(f.Zip()),
		PatientPhone:          g.opt(f.Phone()),
		PatientEmail:          g.opt(strings.ToLower(first + "." + last + "@example.org")),
		InsuranceID:           str(fmt.Sprintf("INS%05d", n)),
		InsurancePayerName:    g.opt(f.RandomString(payers)),
		InsurancePolicyNumber: g.opt(f.Numerify("POL-######")),
		InsuranceGroupNumber:  g.opt(f.Numerify("GRP-###")),
		InsurancePlanType:     g.opt(f.RandomString(planTypes)),
	}
}

func (g *generator) visit(rec model.LegacyRecord, n int) model.LegacyRecord {
	f := g.f
	at := f.DateRange(time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)).
		Truncate(15 * time.Minute)

	charge := f.Float64Range(40, 2500)
	paid := charge * f.Float64Range(0, 1)
	rec.BillingID = str(fmt.Sprintf("B%06d", n))
	rec.BillingTotalCharge = g.opt(fmt.Sprintf("%.2f", charge))
	rec.BillingAmountPaid = g.opt(fmt.Sprintf("%.2f", paid))
	rec.BillingDate = g.opt(at.AddDate(0, 0, f.Number(0, 30)).Format("2006-01-02"))
	rec.BillingPaymentStatus = g.opt(f.RandomString(payStatus))

	p := g.providers[f.Number(0, len(g.providers)-1)]
	rec.DoctorName = g.opt(p.name)
	rec.DoctorTitle = str(p.title)
	rec.DoctorDepartment = str(p.dept)

	c := g.clinics[f.Number(0, len(g.clinics)-1)]
	rec.ClinicName = g.opt(c.name)
	rec.RoomNumber = g.opt(c.room)

	dx := diagnoses[f.Number(0, len(diagnoses)-1)]
	rec.PrimaryDiagnosisCode = g.opt(dx.code)
	rec.PrimaryDiagnosisDesc = str(dx.desc)
	if f.Bool() {
		dx2 := diagnoses[f.Number(0, len(diagnoses)-1)]
		rec.SecondaryDiagnosisCode = str(dx2.code)
		rec.SecondaryDiagnosisDesc = str(dx2.desc)
	}

	tx := treatments[f.Number(0, len(treatments)-1)]
	rec.TreatmentCode = g.opt(tx.code)
	rec.TreatmentDesc = str(tx.desc)

	if f.Float64() < 0.7 {
		rec.PrescriptionID = str(fmt.Sprintf("RX%06d", n))
		rec.PrescriptionDrugName = str(f.RandomString([]string{"Lisinopril", "Metformin", "Atorvastatin", "Albuterol", "Sumatriptan", "Sertraline"}))
		rec.PrescriptionDosage = g.opt(fmt.Sprintf("%dmg", f.Number(1, 50)*10))
		rec.PrescriptionFrequency = g.opt(f.RandomString(frequencies))
		rec.PrescriptionDurationDays = g.opt(fmt.Sprint(f.RandomInt([]int{7, 10, 30, 60, 90})))
	}
	if f.Float64() < 0.4 {
		lab := labs[f.Number(0, len(labs)-1)]
		rec.LabOrderID = str(fmt.Sprintf("LAB%06d", n))
		rec.LabTestCode = str(lab.code)
		rec.LabName = str(lab.desc)
		rec.LabResultValue = g.opt(fmt.Sprintf("%.1f", f.Float64Range(0.5, 250)))
		rec.LabResultUnits = g.opt(f.RandomString([]string{"%", "mg/dL", "mIU/L", "10^3/uL"}))
		rec.LabResultDate = g.opt(at.AddDate(0, 0, f.Number(1, 5)).Format("2006-01-02"))
	}

	rec.VisitID = str(fmt.Sprintf("V%06d", n))
	rec.VisitDatetime = g.opt(at.Format("2006-01-02 15:04:05"))
	rec.VisitType = g.opt(f.RandomString(visitTypes))
	return rec
}

func writeCSV(path string, records []model.LegacyRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(model.SourceColumns()); err != nil {
		return err
	}
	for i := range records {
		fields := records[i].Fields()
		row := make([]string, len(fields))
		for j, p := range fields {
			if *p != nil {
				row[j] = **p
			}
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

func writeParquet(path string, records []model.LegacyRecord) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := parquet.NewGenericWriter[model.LegacyRecord](f)
	if _, err := w.Write(records); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return f.Close()
}

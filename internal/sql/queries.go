package sql

import (
	"embed"
)

// Migrations holds the schema DDL, applied in filename order.
//
//go:embed migrations/*.sql
var Migrations embed.FS

//go:embed queries/insert_load_run.sql
var InsertLoadRun string

//go:embed queries/latest_load_run.sql
var LatestLoadRun string

// Staging queries. These are text/template sources run against the SQLite
// staging database; identifiers are substituted, values are bound.

//go:embed queries/identity_dimension.sql
var IdentityDimension string

//go:embed queries/derived_dimension.sql
var DerivedDimension string

//go:embed queries/patient_status.sql
var PatientStatus string

//go:embed queries/fact_visit.sql
var FactVisit string

//go:embed queries/reconcile.sql
var Reconcile string

//go:embed queries/distinct_visits.sql
var DistinctVisits string

//go:embed queries/visits_except.sql
var VisitsExcept string

//go:embed queries/null_rows.sql
var NullRows string

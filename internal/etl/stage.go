package etl

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/gyeh/caremodel/internal/relation"
	embedsql "github.com/gyeh/caremodel/internal/sql"
)

// SourceTable is the staged name of the loaded dataset.
const SourceTable = "source"

// rowNum is added to every staged table and numbers its rows from 1 in
// the order they were staged.
const rowNum = "row_num"

// Stage is the SQLite database a run is built in. The source and every
// finished table are staged as TEXT columns, so comparisons are byte-wise
// and nulls stay nulls. It lives in a private temporary directory that
// Close removes.
type Stage struct {
	db  *sql.DB
	dir string
	log zerolog.Logger

	mu sync.Mutex // serializes writers
}

// OpenStage creates an empty staging database.
func OpenStage(ctx context.Context, log zerolog.Logger) (*Stage, error) {
	dir, err := os.MkdirTemp("", "caremodel-stage-*")
	if err != nil {
		return nil, fmt.Errorf("create stage dir: %w", err)
	}
	path := filepath.Join(dir, "stage.db")
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(OFF)")
	if err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("open stage: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		os.RemoveAll(dir)
		return nil, fmt.Errorf("open stage: %w", err)
	}
	log.Debug().Str("path", path).Msg("stage opened")
	return &Stage{db: db, dir: dir, log: log}, nil
}

// Close closes the database and removes its files.
func (s *Stage) Close() error {
	if s == nil {
		return nil
	}
	err := s.db.Close()
	if rmErr := os.RemoveAll(s.dir); err == nil {
		err = rmErr
	}
	return err
}

// Put replaces table with rows inside one transaction.
func (s *Stage) Put(ctx context.Context, table string, rows relation.Relation) error {
	if err := rows.Err(); err != nil {
		return fmt.Errorf("stage %s: %w", table, err)
	}
	cols := rows.Columns()
	if len(cols) == 0 {
		return fmt.Errorf("stage %s: no columns", table)
	}
	defs := make([]string, len(cols))
	names := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = quoteIdent(c) + " TEXT"
		names[i] = quoteIdent(c)
		marks[i] = "?"
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("stage %s: begin: %w", table, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(table)); err != nil {
		return fmt.Errorf("stage %s: drop: %w", table, err)
	}
	create := fmt.Sprintf("CREATE TABLE %s (%s INTEGER PRIMARY KEY, %s)",
		quoteIdent(table), rowNum, strings.Join(defs, ", "))
	if _, err := tx.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("stage %s: create: %w", table, err)
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(names, ", "), strings.Join(marks, ", ")))
	if err != nil {
		return fmt.Errorf("stage %s: prepare: %w", table, err)
	}
	defer stmt.Close()

	args := make([]any, len(cols))
	err = rows.Each(func(i int, row relation.Row) error {
		for j, v := range row {
			if v.IsNull() {
				args[j] = nil
			} else {
				args[j] = v.Str()
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("stage %s: row %d: %w", table, i, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("stage %s: commit: %w", table, err)
	}
	s.log.Debug().Str("table", table).Int("rows", rows.Len()).Msg("staged")
	return nil
}

// Index creates an index on table over cols.
func (s *Stage) Index(ctx context.Context, table string, cols ...string) error {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
	}
	name := quoteIdent(table + "_" + strings.Join(cols, "_") + "_idx")
	_, err := s.Exec(ctx, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
		name, quoteIdent(table), strings.Join(quoted, ", ")))
	return err
}

// Exec runs a statement that returns no rows and reports the rows affected.
func (s *Stage) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Query runs query and returns its result set as a relation. Every value is
// read as text; SQL NULL becomes a null Value.
func (s *Stage) Query(ctx context.Context, query string, args ...any) (relation.Relation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return relation.Relation{}, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return relation.Relation{}, err
	}
	scan := make([]sql.NullString, len(cols))
	dest := make([]any, len(cols))
	for i := range scan {
		dest[i] = &scan[i]
	}
	var out []relation.Row
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return relation.Relation{}, err
		}
		row := make(relation.Row, len(cols))
		for i, v := range scan {
			if v.Valid {
				row[i] = relation.String(v.String)
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return relation.Relation{}, err
	}
	r := relation.New(cols, out)
	return r, r.Err()
}

// Count runs a query returning a single integer.
func (s *Stage) Count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// Query templates. Template functions only ever emit quoted identifiers;
// values are always bound as arguments.
var (
	identityDimensionQuery = parseQuery("identity_dimension", embedsql.IdentityDimension)
	derivedDimensionQuery  = parseQuery("derived_dimension", embedsql.DerivedDimension)
	patientStatusQuery     = parseQuery("patient_status", embedsql.PatientStatus)
	reconcileQuery         = parseQuery("reconcile", embedsql.Reconcile)
	distinctVisitsQuery    = parseQuery("distinct_visits", embedsql.DistinctVisits)
	visitsExceptQuery      = parseQuery("visits_except", embedsql.VisitsExcept)
	nullRowsQuery          = parseQuery("null_rows", embedsql.NullRows)
)

var queryFuncs = template.FuncMap{
	"ident": quoteIdent,
	// list renders p."a", p."b"; an empty qualifier leaves the names bare.
	"list": func(qualifier string, cols []string) string {
		return joinCols(cols, ", ", func(c string) string { return qualify(qualifier, c) })
	},
	"notNull": func(qualifier string, cols []string) string {
		return joinCols(cols, " AND ", func(c string) string { return qualify(qualifier, c) + " IS NOT NULL" })
	},
	// same is a null-safe equality over every column of two aliases.
	"same": func(a, b string, cols []string) string {
		return joinCols(cols, " AND ", func(c string) string { return qualify(a, c) + " IS " + qualify(b, c) })
	},
}

func parseQuery(name, text string) *template.Template {
	return template.Must(template.New(name).Funcs(queryFuncs).Parse(text))
}

// render executes a query template.
func render(t *template.Template, data any) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return b.String(), nil
}

func qualify(qualifier, col string) string {
	if qualifier == "" {
		return quoteIdent(col)
	}
	return qualifier + "." + quoteIdent(col)
}

func joinCols(cols []string, sep string, f func(string) string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = f(c)
	}
	return strings.Join(parts, sep)
}

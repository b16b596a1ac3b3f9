package sink

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/gyeh/caremodel/internal/model"
	"github.com/gyeh/caremodel/internal/relation"
)

// SQLiteFile is the database file name used by ForFormat.
const SQLiteFile = "warehouse.db"

// SQLite writes every table into one SQLite database file. Each table is
// dropped, recreated and filled inside a single transaction.
type SQLite struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (or creates) the database at path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return &SQLite{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *SQLite) Path() string {
	return s.path
}

// DB exposes the underlying handle, mainly for inspection in tests.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

func (s *SQLite) Write(ctx context.Context, table model.Table, rows relation.Relation) error {
	if err := checkColumns(table, rows); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(table.SQLName)); err != nil {
		return fmt.Errorf("drop %s: %w", table.SQLName, err)
	}
	if _, err := tx.ExecContext(ctx, createTableSQL(table)); err != nil {
		return fmt.Errorf("create %s: %w", table.SQLName, err)
	}

	stmt, err := tx.PrepareContext(ctx, insertSQL(table))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	err = rows.Each(func(i int, row relation.Row) error {
		args, err := typedRow(table, row)
		if err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
		for j, a := range args {
			if t, ok := a.(time.Time); ok {
				args[j] = dateText(table.Columns[j].Kind, t)
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert row %d: %w", i, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", table.SQLName, err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func sqliteType(k model.Kind) string {
	switch k {
	case model.Int:
		return "INTEGER"
	case model.Numeric:
		return "NUMERIC"
	default:
		return "TEXT"
	}
}

func createTableSQL(table model.Table) string {
	defs := make([]string, len(table.Columns))
	for i, c := range table.Columns {
		defs[i] = quoteIdent(c.Name) + " " + sqliteType(c.Kind)
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(table.SQLName), strings.Join(defs, ", "))
}

func insertSQL(table model.Table) string {
	names := make([]string, len(table.Columns))
	marks := make([]string, len(table.Columns))
	for i, c := range table.Columns {
		names[i] = quoteIdent(c.Name)
		marks[i] = "?"
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table.SQLName), strings.Join(names, ", "), strings.Join(marks, ", "))
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

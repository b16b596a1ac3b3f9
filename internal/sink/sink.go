// Package sink persists finished tables. Each Write replaces the previous
// artifact for the table atomically: readers see either the old table or the
// new one, never a partial write.
package sink

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gyeh/caremodel/internal/model"
	"github.com/gyeh/caremodel/internal/normalize"
	"github.com/gyeh/caremodel/internal/relation"
)

// Sink writes tables to one destination.
type Sink interface {
	Write(ctx context.Context, table model.Table, rows relation.Relation) error
	Close() error
}

// ForFormat returns the file sink for format ("csv", "parquet" or "sqlite")
// rooted at dir. The directory is created if needed.
func ForFormat(format, dir string) (Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	switch format {
	case "csv":
		return &CSV{Dir: dir}, nil
	case "parquet":
		return &Parquet{Dir: dir}, nil
	case "sqlite":
		return OpenSQLite(filepath.Join(dir, SQLiteFile))
	}
	return nil, fmt.Errorf("unknown output format %q", format)
}

// Fanout writes every table to each sink in turn.
type Fanout []Sink

func (f Fanout) Write(ctx context.Context, table model.Table, rows relation.Relation) error {
	for _, s := range f {
		if err := s.Write(ctx, table, rows); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every sink and returns the errors joined.
func (f Fanout) Close() error {
	var errs []error
	for _, s := range f {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

// checkColumns verifies rows carries exactly the table's columns, in order.
func checkColumns(table model.Table, rows relation.Relation) error {
	if err := rows.Err(); err != nil {
		return err
	}
	want := table.ColumnNames()
	got := rows.Columns()
	if len(got) != len(want) {
		return fmt.Errorf("%s: got %d columns, want %d", table.Name, len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			return fmt.Errorf("%s: column %d is %q, want %q", table.Name, i, got[i], want[i])
		}
	}
	return nil
}

// writeAtomic creates path by writing to a temporary file in the same
// directory and renaming it into place. On error the temporary file is
// removed and any existing file at path is left untouched.
func writeAtomic(path string, write func(f *os.File) error) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if err = write(tmp); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", tmp.Name(), err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// Typed converts v to the Go value stored for kind: nil for null, string
// for Text and Numeric, int64 for Int, time.Time (UTC) for Date and
// Timestamp. Numeric text may carry a leading currency sign and thousands
// separators; both are stripped. A value that does not parse as its kind,
// or a numeric that is NaN or infinite, is an error.
func Typed(kind model.Kind, v relation.Value) (any, error) {
	if v.IsNull() {
		return nil, nil
	}
	s := v.Str()
	switch kind {
	case model.Int:
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q", s)
		}
		return n, nil
	case model.Numeric:
		t := plainNumber(s)
		f, err := strconv.ParseFloat(t, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("invalid numeric %q", s)
		}
		return t, nil
	case model.Date:
		d := normalize.ParseDate(s)
		if d == nil {
			return nil, fmt.Errorf("invalid date %q", s)
		}
		return *d, nil
	case model.Timestamp:
		ts := normalize.ParseTimestamp(s)
		if ts == nil {
			return nil, fmt.Errorf("invalid timestamp %q", s)
		}
		return *ts, nil
	}
	return s, nil
}

// plainNumber strips blanks, a "$" after an optional sign, and thousands
// separators: "-$1,250.00" becomes "-1250.00".
func plainNumber(s string) string {
	t := strings.TrimSpace(s)
	sign := ""
	if strings.HasPrefix(t, "-") || strings.HasPrefix(t, "+") {
		sign, t = t[:1], t[1:]
	}
	t = strings.TrimPrefix(t, "$")
	t = strings.ReplaceAll(t, ",", "")
	if sign == "-" {
		return sign + t
	}
	return t
}

// typedRow converts row using the table's column kinds.
func typedRow(table model.Table, row relation.Row) ([]any, error) {
	out := make([]any, len(row))
	for j, v := range row {
		c := table.Columns[j]
		tv, err := Typed(c.Kind, v)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c.Name, err)
		}
		out[j] = tv
	}
	return out, nil
}

// dateText renders a Date or Timestamp value in its canonical text form.
func dateText(kind model.Kind, t time.Time) string {
	if kind == model.Date {
		return t.Format(normalize.DateLayout)
	}
	return t.Format(normalize.TimestampLayout)
}

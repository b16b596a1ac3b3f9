// Package relation holds tabular results in memory: named columns over rows
// of nullable text values. Relations carry data between the loader, the
// staging queries and the sinks; they are never modified after New.
package relation

import (
	"crypto/sha256"
	"fmt"
	"slices"
	"sort"
)

// Relation is an ordered set of named columns and the rows over them.
type Relation struct {
	cols  []string
	index map[string]int
	rows  []Row
	err   error
}

// New builds a Relation. Column names must be unique and every row must have
// exactly len(cols) values. The rows are copied.
func New(cols []string, rows []Row) Relation {
	r, err := build(slices.Clone(cols))
	if err != nil {
		return Relation{err: err}
	}
	r.rows = make([]Row, len(rows))
	for i, row := range rows {
		if len(row) != len(cols) {
			return Relation{err: fmt.Errorf("row %d has %d values, want %d", i, len(row), len(cols))}
		}
		r.rows[i] = slices.Clone(row)
	}
	return r
}

// build indexes already-owned columns.
func build(cols []string) (Relation, error) {
	index := make(map[string]int, len(cols))
	for i, c := range cols {
		if _, dup := index[c]; dup {
			return Relation{}, fmt.Errorf("duplicate column %q", c)
		}
		index[c] = i
	}
	return Relation{cols: cols, index: index}, nil
}

// Err returns the error New found, if any.
func (r Relation) Err() error {
	return r.err
}

// Columns returns a copy of the column names.
func (r Relation) Columns() []string {
	return slices.Clone(r.cols)
}

// Len returns the number of rows.
func (r Relation) Len() int {
	return len(r.rows)
}

// Index returns the position of col.
func (r Relation) Index(col string) (int, bool) {
	i, ok := r.index[col]
	return i, ok
}

// Row returns a copy of row i.
func (r Relation) Row(i int) Row {
	return slices.Clone(r.rows[i])
}

// Value returns the value of col in row i, or Null if col is unknown.
func (r Relation) Value(i int, col string) Value {
	j, ok := r.index[col]
	if !ok {
		return Null()
	}
	return r.rows[i][j]
}

// Column returns a copy of every value of col in row order.
func (r Relation) Column(col string) ([]Value, error) {
	j, ok := r.index[col]
	if !ok {
		return nil, fmt.Errorf("unknown column %q", col)
	}
	out := make([]Value, len(r.rows))
	for i, row := range r.rows {
		out[i] = row[j]
	}
	return out, nil
}

// Each calls fn for every row in order. fn must not retain or modify row.
func (r Relation) Each(fn func(i int, row Row) error) error {
	for i, row := range r.rows {
		if err := fn(i, row); err != nil {
			return err
		}
	}
	return nil
}

// Fingerprint returns a hex SHA-256 over the columns and the sorted rows.
// Two relations with the same columns and the same multiset of rows share a
// fingerprint regardless of row order.
func (r Relation) Fingerprint() string {
	all := make([]int, len(r.cols))
	for i := range all {
		all[i] = i
	}
	keys := make([]string, len(r.rows))
	for i, row := range r.rows {
		keys[i] = row.key(all)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, c := range r.cols {
		h.Write([]byte(c))
		h.Write([]byte{0})
	}
	h.Write([]byte{1})
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

package db

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/gyeh/caremodel/internal/model"
	"github.com/gyeh/caremodel/internal/relation"
	"github.com/gyeh/caremodel/internal/sink"
)

// RelationSource implements pgx.CopyFromSource over a relation, converting
// each value to the Postgres type of its column.
type RelationSource struct {
	table   model.Table
	rows    relation.Relation
	next    int
	current []any
	err     error
}

// NewRelationSource creates a CopyFromSource for table. rows must carry the
// table's columns in order.
func NewRelationSource(table model.Table, rows relation.Relation) *RelationSource {
	return &RelationSource{table: table, rows: rows}
}

// Next converts the next row. Returns false at the end or on a conversion
// error, which Err then reports.
func (s *RelationSource) Next() bool {
	if s.err != nil || s.next >= s.rows.Len() {
		return false
	}
	row := s.rows.Row(s.next)
	s.next++

	vals := make([]any, len(row))
	for j, v := range row {
		c := s.table.Columns[j]
		pv, err := pgValue(c.Kind, v)
		if err != nil {
			s.err = fmt.Errorf("%s row %d column %s: %w", s.table.Name, s.next, c.Name, err)
			return false
		}
		vals[j] = pv
	}
	s.current = vals
	return true
}

// Values returns the current row's values in COPY column order.
func (s *RelationSource) Values() ([]any, error) {
	return s.current, nil
}

// Err returns any error encountered during iteration.
func (s *RelationSource) Err() error {
	return s.err
}

// pgValue converts v for COPY. Numeric text goes through pgtype.Numeric so
// no precision is lost.
func pgValue(kind model.Kind, v relation.Value) (any, error) {
	tv, err := sink.Typed(kind, v)
	if err != nil || tv == nil {
		return nil, err
	}
	if kind == model.Numeric {
		var num pgtype.Numeric
		if err := num.Scan(tv.(string)); err != nil {
			return nil, fmt.Errorf("invalid numeric %q: %w", v.Str(), err)
		}
		return num, nil
	}
	return tv, nil
}

// Compile-time check that RelationSource satisfies the interface.
var _ pgx.CopyFromSource = (*RelationSource)(nil)

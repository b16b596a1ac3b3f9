// Package source reads the flat legacy visit export into an immutable relation.
package source

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gyeh/caremodel/internal/model"
	"github.com/gyeh/caremodel/internal/normalize"
	"github.com/gyeh/caremodel/internal/relation"
)

// VisitDateColumn is the parsed form of visit_datetime appended to every source relation.
const VisitDateColumn = "visit_date"

// Dataset is the loaded source: every legacy column plus visit_date.
type Dataset struct {
	Path   string
	SHA256 string
	Format string // "csv" or "parquet"
	Rows   relation.Relation
	// UnparsedVisitDates counts non-empty visit_datetime values that could not be parsed.
	UnparsedVisitDates int
}

// Load reads the file at path. Files ending in .parquet are read as Parquet,
// anything else as CSV with a header row.
func Load(path string) (*Dataset, error) {
	sha, err := normalize.FileHash(path)
	if err != nil {
		return nil, fmt.Errorf("load source: %w", err)
	}

	format := "csv"
	var records []model.LegacyRecord
	if strings.EqualFold(filepath.Ext(path), ".parquet") {
		format = "parquet"
		records, err = ReadParquet(path)
	} else {
		records, err = ReadCSV(path)
	}
	if err != nil {
		return nil, fmt.Errorf("load source: %w", err)
	}

	rows, unparsed := ToRelation(records)
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load source: %w", err)
	}
	return &Dataset{
		Path:               path,
		SHA256:             sha,
		Format:             format,
		Rows:               rows,
		UnparsedVisitDates: unparsed,
	}, nil
}

// ToRelation converts records into a relation over model.SourceColumns plus
// visit_date, the canonical form of visit_datetime (null when unparseable).
// It also returns how many non-empty visit_datetime values failed to parse.
func ToRelation(records []model.LegacyRecord) (relation.Relation, int) {
	cols := append(model.SourceColumns(), VisitDateColumn)
	rows := make([]relation.Row, len(records))
	unparsed := 0
	for i := range records {
		fields := records[i].Fields()
		row := make(relation.Row, 0, len(cols))
		for _, f := range fields {
			row = append(row, relation.FromPtr(*f))
		}
		visitDate := relation.Null()
		if dt := records[i].VisitDatetime; dt != nil {
			if ts, ok := normalize.CanonicalTimestamp(*dt); ok {
				visitDate = relation.String(ts)
			} else if strings.TrimSpace(*dt) != "" {
				unparsed++
			}
		}
		rows[i] = append(row, visitDate)
	}
	return relation.New(cols, rows), unparsed
}

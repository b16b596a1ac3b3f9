package source

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gyeh/caremodel/internal/model"
)

// ReadCSV reads a legacy CSV export with a header row. Column lookup is
// case-insensitive; extra columns are ignored; empty cells become nulls.
func ReadCSV(path string) ([]model.LegacyRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()
	return DecodeCSV(file)
}

// DecodeCSV is ReadCSV over an arbitrary reader.
func DecodeCSV(r io.Reader) ([]model.LegacyRecord, error) {
	bufReader := bufio.NewReaderSize(r, 256*1024)

	// Skip UTF-8 BOM if present
	bom, err := bufReader.Peek(3)
	if err == nil && len(bom) >= 3 && bom[0] == 0xEF && bom[1] == 0xBB && bom[2] == 0xBF {
		bufReader.Discard(3)
	}

	reader := csv.NewReader(bufReader)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read header: empty file")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	names := make([]string, len(header))
	for i, h := range header {
		names[i] = strings.ToLower(strings.TrimSpace(h))
	}
	if err := ValidateColumns(names); err != nil {
		return nil, err
	}
	colIdx := make(map[string]int, len(names))
	for i, n := range names {
		if _, dup := colIdx[n]; !dup {
			colIdx[n] = i
		}
	}
	positions := make([]int, 0, len(model.SourceColumns()))
	for _, c := range model.SourceColumns() {
		positions = append(positions, colIdx[c])
	}

	var records []model.LegacyRecord
	line := 1
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		var lr model.LegacyRecord
		fields := lr.Fields()
		for i, pos := range positions {
			if pos < len(rec) && rec[pos] != "" {
				v := rec[pos]
				*fields[i] = &v
			}
		}
		records = append(records, lr)
	}
	return records, nil
}

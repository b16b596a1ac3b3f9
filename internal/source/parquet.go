package source

import (
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/gyeh/caremodel/internal/model"
)

const readBatchSize = 1024

// ReadParquet reads every LegacyRecord from a Parquet file after checking its
// schema carries the legacy columns.
func ReadParquet(path string) ([]model.LegacyRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open parquet file: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat parquet file: %w", err)
	}

	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}
	if err := ValidateSchema(pf.Schema()); err != nil {
		return nil, err
	}

	reader := parquet.NewGenericReader[model.LegacyRecord](pf)
	defer reader.Close()

	records := make([]model.LegacyRecord, 0, reader.NumRows())
	buf := make([]model.LegacyRecord, readBatchSize)
	for {
		n, readErr := reader.Read(buf)
		records = append(records, buf[:n]...)
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("read parquet rows: %w", readErr)
		}
	}
	return records, nil
}

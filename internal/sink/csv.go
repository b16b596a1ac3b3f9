package sink

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gyeh/caremodel/internal/model"
	"github.com/gyeh/caremodel/internal/relation"
)

// CSV writes each table to <Dir>/<Table>.csv with a header row. Values are
// written as-is; nulls become empty cells.
type CSV struct {
	Dir string
}

// Path returns the file a table is written to.
func (s *CSV) Path(table model.Table) string {
	return filepath.Join(s.Dir, table.Name+".csv")
}

func (s *CSV) Write(ctx context.Context, table model.Table, rows relation.Relation) error {
	if err := checkColumns(table, rows); err != nil {
		return err
	}
	return writeAtomic(s.Path(table), func(f *os.File) error {
		bw := bufio.NewWriterSize(f, 256*1024)
		w := csv.NewWriter(bw)
		if err := w.Write(table.ColumnNames()); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		record := make([]string, len(table.Columns))
		err := rows.Each(func(i int, row relation.Row) error {
			if i%4096 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			for j, v := range row {
				record[j] = v.Str()
			}
			return w.Write(record)
		})
		if err != nil {
			return fmt.Errorf("write rows: %w", err)
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return fmt.Errorf("flush csv: %w", err)
		}
		return bw.Flush()
	})
}

func (s *CSV) Close() error { return nil }

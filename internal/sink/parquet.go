package sink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"

	"github.com/gyeh/caremodel/internal/model"
	"github.com/gyeh/caremodel/internal/relation"
)

const parquetBatchSize = 4096

// Parquet writes each table to <Dir>/<Table>.parquet with a typed schema:
// Int columns as INT64, Date as DATE, Timestamp as TIMESTAMP(MICROS) and
// everything else as STRING. Every column is optional. Pages are
// zstd-compressed.
type Parquet struct {
	Dir string
}

// Path returns the file a table is written to.
func (s *Parquet) Path(table model.Table) string {
	return filepath.Join(s.Dir, table.Name+".parquet")
}

// ParquetSchema builds the Parquet schema for a table.
func ParquetSchema(table model.Table) *parquet.Schema {
	group := parquet.Group{}
	for _, c := range table.Columns {
		var node parquet.Node
		switch c.Kind {
		case model.Int:
			node = parquet.Int(64)
		case model.Date:
			node = parquet.Date()
		case model.Timestamp:
			node = parquet.Timestamp(parquet.Microsecond)
		default:
			node = parquet.String()
		}
		group[c.Name] = parquet.Optional(node)
	}
	return parquet.NewSchema(table.SQLName, group)
}

func (s *Parquet) Write(ctx context.Context, table model.Table, rows relation.Relation) error {
	if err := checkColumns(table, rows); err != nil {
		return err
	}
	schema := ParquetSchema(table)

	// Group nodes order their fields by name; map each table column to its
	// leaf index in the schema.
	leaf := make(map[string]int, len(table.Columns))
	for i, f := range schema.Fields() {
		leaf[f.Name()] = i
	}
	colIdx := make([]int, len(table.Columns))
	for j, c := range table.Columns {
		colIdx[j] = leaf[c.Name]
	}

	return writeAtomic(s.Path(table), func(f *os.File) error {
		w := parquet.NewWriter(f, schema,
			parquet.Compression(&zstd.Codec{Level: zstd.SpeedDefault}),
			parquet.CreatedBy("caremodel", "1.0", ""),
		)
		batch := make([]parquet.Row, 0, parquetBatchSize)
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			if _, err := w.WriteRows(batch); err != nil {
				return fmt.Errorf("write parquet rows: %w", err)
			}
			batch = batch[:0]
			return ctx.Err()
		}
		err := rows.Each(func(_ int, row relation.Row) error {
			pr, err := parquetRow(table, row, colIdx)
			if err != nil {
				return err
			}
			batch = append(batch, pr)
			if len(batch) == parquetBatchSize {
				return flush()
			}
			return nil
		})
		if err == nil {
			err = flush()
		}
		if err != nil {
			w.Close()
			return err
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("close parquet writer: %w", err)
		}
		return nil
	})
}

func (s *Parquet) Close() error { return nil }

// parquetRow converts one relation row into a Parquet row whose values are
// placed in schema leaf order.
func parquetRow(table model.Table, row relation.Row, colIdx []int) (parquet.Row, error) {
	typed, err := typedRow(table, row)
	if err != nil {
		return nil, err
	}
	out := make(parquet.Row, len(row))
	for j, tv := range typed {
		col := colIdx[j]
		if tv == nil {
			out[col] = parquet.NullValue().Level(0, 0, col)
			continue
		}
		var v parquet.Value
		switch x := tv.(type) {
		case int64:
			v = parquet.Int64Value(x)
		case time.Time:
			if table.Columns[j].Kind == model.Date {
				v = parquet.Int32Value(int32(x.Unix() / 86400))
			} else {
				v = parquet.Int64Value(x.UnixMicro())
			}
		case string:
			v = parquet.ByteArrayValue([]byte(x))
		default:
			return nil, fmt.Errorf("column %s: unsupported value %T", table.Columns[j].Name, tv)
		}
		out[col] = v.Level(0, 1, col)
	}
	return out, nil
}

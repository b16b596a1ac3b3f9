package source

import (
	"fmt"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/gyeh/caremodel/internal/model"
)

// ValidateColumns checks that every legacy column is present among names,
// which are expected lowercased.
func ValidateColumns(names []string) error {
	present := make(map[string]bool, len(names))
	for _, n := range names {
		present[n] = true
	}
	var missing []string
	for _, c := range model.SourceColumns() {
		if !present[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required columns: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ValidateSchema checks a Parquet schema for the legacy columns.
func ValidateSchema(schema *parquet.Schema) error {
	fields := schema.Fields()
	names := make([]string, len(fields))
	for i, field := range fields {
		names[i] = strings.ToLower(field.Name())
	}
	return ValidateColumns(names)
}

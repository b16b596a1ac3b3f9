package etl

import (
	"context"
	"fmt"
	"slices"

	"github.com/gyeh/caremodel/internal/model"
	"github.com/gyeh/caremodel/internal/relation"
	embedsql "github.com/gyeh/caremodel/internal/sql"
)

// VisitKey is the natural identifier of a visit and of a fact row.
const VisitKey = "visit_id"

// BuildFact joins the staged source to every staged derived dimension on
// its business key and projects the FactVisit columns, one row per
// visit_id.
//
// All joins are left outer joins: a source row whose business key is null
// or has no dimension match keeps its fact row with a null foreign key.
// When visit_id repeats, the first source row wins.
func BuildFact(ctx context.Context, st *Stage) (relation.Relation, error) {
	fact, err := st.Query(ctx, embedsql.FactVisit)
	if err != nil {
		return relation.Relation{}, fmt.Errorf("build fact: %w", err)
	}
	if got := fact.Columns(); !slices.Equal(got, model.FactVisit.ColumnNames()) {
		return relation.Relation{}, fmt.Errorf("build fact: got columns %v", got)
	}
	return fact, nil
}

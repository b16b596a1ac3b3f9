package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/gyeh/caremodel/internal/etl"
	"github.com/gyeh/caremodel/internal/relation"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#A6E3A1"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#F38BA8"))
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#45475A"))
)

// maxMismatchRows caps how many mismatching rows are listed per check.
const maxMismatchRows = 10

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func status(ok bool) string {
	if ok {
		return okStyle.Render("OK")
	}
	return warnStyle.Render("MISMATCH")
}

func printRunReport(w io.Writer, res *etl.Result, outDir, format string) {
	fmt.Fprint(w, renderRunReport(res, outDir, format))
}

func renderRunReport(res *etl.Result, outDir, format string) string {
	var b strings.Builder
	s := res.Summary

	fmt.Fprintln(&b, titleStyle.Render("caremodel run "+s.RunID))
	fmt.Fprintf(&b, "Input:   %s (%d rows, %d distinct visits)\n", s.InputPath, s.RowsRead, s.DistinctVisits)
	fmt.Fprintf(&b, "Output:  %s (%s)\n", outDir, format)
	fmt.Fprintf(&b, "Elapsed: %.2fs\n\n", s.DurationTotal.Seconds())

	tables := newTable("Table", "Rows")
	for _, o := range res.Outputs() {
		tables.Row(o.Table.Name, fmt.Sprint(o.Rows.Len()))
	}
	fmt.Fprintln(&b, tables.String())
	fmt.Fprintln(&b)

	checks := newTable("Check", "Keys", "Checked", "Mismatched", "Unkeyed", "Status")
	for _, r := range res.Reports {
		checks.Row(r.Name, strings.Join(r.KeyColumns, ", "),
			fmt.Sprint(r.Checked), fmt.Sprint(r.Mismatched), fmt.Sprint(r.Unkeyed), status(r.OK()))
	}
	fmt.Fprintln(&b, checks.String())

	for _, r := range res.Reports {
		if r.OK() {
			continue
		}
		fmt.Fprintf(&b, "\n%s mismatches (%s):\n", r.Name, strings.Join(r.Attributes, ", "))
		for i, m := range r.Mismatches {
			if i == maxMismatchRows {
				fmt.Fprintf(&b, "  ... %d more\n", len(r.Mismatches)-maxMismatchRows)
				break
			}
			fmt.Fprintf(&b, "  visit %s keys=%s dimension=%s source=%s\n",
				m.VisitID, joinValues(m.Keys), joinValues(m.Dimension), joinValues(m.Source))
		}
	}

	c := res.Completeness
	fmt.Fprintf(&b, "\nCompleteness: %d source visits, %d fact visits %s\n",
		c.SourceVisits, c.FactVisits, status(c.Complete()))
	if len(c.Missing) > 0 {
		fmt.Fprintf(&b, "  missing from fact: %s\n", joinValues(c.Missing))
	}
	if len(c.Extra) > 0 {
		fmt.Fprintf(&b, "  not in source: %s\n", joinValues(c.Extra))
	}
	return b.String()
}

func printPreview(w io.Writer, res *etl.Result, n int) {
	for _, o := range res.Outputs() {
		fmt.Fprintln(w)
		fmt.Fprintln(w, titleStyle.Render(fmt.Sprintf("%s (%d of %d rows)", o.Table.Name, min(n, o.Rows.Len()), o.Rows.Len())))
		fmt.Fprintln(w, previewTable(o.Rows, n))
	}
}

func previewTable(rows relation.Relation, n int) string {
	t := newTable(rows.Columns()...)
	for i := 0; i < rows.Len() && i < n; i++ {
		row := rows.Row(i)
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = v.String()
		}
		t.Row(cells...)
	}
	return t.String()
}

func planTable(stats *etl.PlanStats) string {
	t := newTable("Table", "Rows with null key")
	add := func(m map[string]int) {
		names := make([]string, 0, len(m))
		for name := range m {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			t.Row(name, fmt.Sprint(m[name]))
		}
	}
	add(stats.MissingIdentity)
	add(stats.Unkeyable)
	return t.String()
}

func joinValues(vals []relation.Value) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = v.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

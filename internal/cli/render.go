package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/JonMunkholm/multiimport/internal/core"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	return t
}

func renderEntities(w io.Writer, infos []core.EntityInfo) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Key", "Model", "ID Column", "Columns", "Depends On", "Restricted"})
	for _, e := range infos {
		t.AppendRow(table.Row{
			e.Key,
			e.Model,
			e.IDColumn,
			strings.Join(e.Columns, ", "),
			strings.Join(e.DependsOn, ", "),
			e.Restricted,
		})
	}
	t.Render()
}

// renderResult prints a per-file summary followed by file and row errors.
func renderResult(w io.Writer, res *core.MultiImportResult) {
	t := newTable(w)
	t.AppendHeader(table.Row{"File", "Entity", "New", "Updated", "Unchanged", "Errors"})
	var total [4]int
	for _, f := range res.Files {
		r := f.Result
		counts := [4]int{len(r.NewRows()), len(r.UpdatedRows()), len(r.UnchangedRows()), len(r.Errors())}
		t.AppendRow(table.Row{f.Filename, r.Key, counts[0], counts[1], counts[2], counts[3]})
		for i, n := range counts {
			total[i] += n
		}
	}
	t.AppendFooter(table.Row{"", "Total", total[0], total[1], total[2], total[3]})
	t.Render()

	if names := res.ErrorFiles(); len(names) > 0 {
		fe := newTable(w)
		fe.SetTitle("File errors")
		fe.AppendHeader(table.Row{"File", "Message"})
		for _, name := range names {
			for _, msg := range res.Errors[name] {
				fe.AppendRow(table.Row{name, msg})
			}
		}
		fe.Render()
	}

	var rowErrs int
	re := newTable(w)
	re.SetTitle("Row errors")
	re.AppendHeader(table.Row{"File", "Line", "Row", "Column", "Message"})
	for _, f := range res.Files {
		for _, e := range f.Result.Errors() {
			re.AppendRow(table.Row{f.Filename, e.LineNumber, e.RowNumber, e.Attribute, e.Message})
			rowErrs++
		}
	}
	if rowErrs > 0 {
		re.Render()
	}

	status := "valid"
	if !res.Valid() {
		status = "invalid"
	}
	fmt.Fprintf(w, "Result: %s, %d change(s)\n", status, res.NumChanges())
}

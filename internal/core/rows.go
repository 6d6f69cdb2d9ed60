package core

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/JonMunkholm/multiimport/internal/schema"
	"github.com/JonMunkholm/multiimport/internal/tabular"
)

// NonFieldErrors is the error key for problems not tied to one column.
const NonFieldErrors = "non_field_errors"

// RowStatus is the outcome of importing one row.
type RowStatus int

const (
	StatusUnchanged RowStatus = 1
	StatusUpdate    RowStatus = 2
	StatusNew       RowStatus = 3
)

func (s RowStatus) String() string {
	switch s {
	case StatusUnchanged:
		return "unchanged"
	case StatusUpdate:
		return "update"
	case StatusNew:
		return "new"
	}
	return "error"
}

// Row is one line of input and everything learned about it.
type Row struct {
	RowNumber  int                 `json:"row_number"`
	LineNumber int                 `json:"line_number"`
	Data       map[string]string   `json:"data"`
	Errors     map[string][]string `json:"errors"`
	Status     RowStatus           `json:"status,omitempty"`
	Diff       map[string][]string `json:"diff"`

	// ID is the key of the existing record the row updates.
	ID string `json:"id,omitempty"`
	// Resolved holds recorded relationship keys per column when replaying.
	Resolved map[string]string `json:"-"`

	instance *schema.Record
	created  bool
	errOrder []string
}

// NewRow creates a row with the given position and data.
func NewRow(rowNumber, lineNumber int, data map[string]string) *Row {
	return &Row{RowNumber: rowNumber, LineNumber: lineNumber, Data: data}
}

// AddError records a problem with one column.
func (r *Row) AddError(column, msg string) {
	if r.Errors == nil {
		r.Errors = make(map[string][]string)
	}
	if _, ok := r.Errors[column]; !ok {
		r.errOrder = append(r.errOrder, column)
	}
	r.Errors[column] = append(r.Errors[column], msg)
}

// AddNonFieldError records a problem with the row as a whole.
func (r *Row) AddNonFieldError(msg string) {
	r.AddError(NonFieldErrors, msg)
}

// HasErrors reports whether any error was recorded.
func (r *Row) HasErrors() bool { return len(r.Errors) > 0 }

// errorColumns returns error keys in the order they were first added.
// Rows decoded from JSON fall back to sorted keys.
func (r *Row) errorColumns() []string {
	if len(r.errOrder) == len(r.Errors) {
		return r.errOrder
	}
	keys := make([]string, 0, len(r.Errors))
	for k := range r.Errors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// promote raises the status; a row created in one pass stays new.
func (r *Row) promote(s RowStatus) {
	if s > r.Status {
		r.Status = s
	}
}

// Submitted reports whether the row carries a value for column.
func (r *Row) Submitted(column string) bool {
	_, ok := r.Data[column]
	return ok
}

// ReadRows normalizes every non-blank row of ds. Row numbers count data
// rows from 1; line numbers count physical lines including the header and
// line breaks embedded in cells.
func ReadRows(ds *tabular.Dataset) []*Row {
	var rows []*Row
	cumulative := 0
	for i, raw := range ds.Rows {
		data := make(map[string]string, len(ds.Headers))
		blank := true
		extraLines := 0
		for j, h := range ds.Headers {
			if h == "" {
				continue
			}
			var v any
			if j < len(raw) {
				v = raw[j]
			}
			s := NormalizeCell(v)
			if s != "" {
				blank = false
			}
			extraLines += strings.Count(s, "\n")
			data[h] = s
		}

		line := 2 + cumulative
		cumulative += 1 + extraLines
		if blank {
			continue
		}
		rows = append(rows, NewRow(i+1, line, data))
	}
	return rows
}

// NormalizeCell renders a raw cell as text. Integral floats lose their
// fractional part, so a spreadsheet's 12.0 reads as 12.
func NormalizeCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return NormalizeString(val)
	case float64:
		if val == math.Trunc(val) && !math.IsInf(val, 0) && math.Abs(val) < 1e15 {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return NormalizeCell(float64(val))
	case bool:
		if val {
			return "True"
		}
		return "False"
	}
	return NormalizeString(fmt.Sprint(v))
}

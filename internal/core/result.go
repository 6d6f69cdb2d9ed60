package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
)

// RowError is one problem reported for a row.
type RowError struct {
	LineNumber int    `json:"line_number"`
	RowNumber  int    `json:"row_number"`
	Message    string `json:"message"`
	Attribute  string `json:"attribute,omitempty"`
}

// ImportResult is the outcome of importing one dataset into one entity.
type ImportResult struct {
	Key      string   `json:"key"`
	Model    string   `json:"model"`
	Filename string   `json:"filename,omitempty"`
	Headers  []string `json:"headers"`
	// Fields holds the model attribute of each known header, in header order.
	Fields []string `json:"fields"`
	Rows   []*Row   `json:"rows"`
}

// NewImportResult creates an empty result for a dataset of e.
func NewImportResult(e *Entity, filename string, headers []string) *ImportResult {
	res := &ImportResult{Key: e.Key, Model: e.model.Name, Filename: filename}
	for _, m := range e.FilterByColumns(headers) {
		res.Headers = append(res.Headers, m.Column)
		res.Fields = append(res.Fields, m.Field)
	}
	return res
}

// Valid reports whether no row has errors.
func (r *ImportResult) Valid() bool {
	for _, row := range r.Rows {
		if row.HasErrors() {
			return false
		}
	}
	return true
}

// Errors flattens row errors in row order.
func (r *ImportResult) Errors() []RowError {
	var out []RowError
	for _, row := range r.Rows {
		for _, col := range row.errorColumns() {
			for _, msg := range row.Errors[col] {
				re := RowError{LineNumber: row.LineNumber, RowNumber: row.RowNumber, Message: msg}
				if col != NonFieldErrors {
					re.Attribute = col
				}
				out = append(out, re)
			}
		}
	}
	return out
}

func (r *ImportResult) rowsWith(status RowStatus) []*Row {
	var out []*Row
	for _, row := range r.Rows {
		if !row.HasErrors() && row.Status == status {
			out = append(out, row)
		}
	}
	return out
}

// NewRows returns rows that create a record.
func (r *ImportResult) NewRows() []*Row { return r.rowsWith(StatusNew) }

// UpdatedRows returns rows that change an existing record.
func (r *ImportResult) UpdatedRows() []*Row { return r.rowsWith(StatusUpdate) }

// UnchangedRows returns rows that match an existing record exactly.
func (r *ImportResult) UnchangedRows() []*Row { return r.rowsWith(StatusUnchanged) }

// Changes returns the number of new and updated rows.
func (r *ImportResult) Changes() int {
	return len(r.NewRows()) + len(r.UpdatedRows())
}

// Diff is the transmitted form of one result, suitable for Replay.
type Diff struct {
	Filename         string       `json:"filename,omitempty"`
	Model            string       `json:"model"`
	ColumnNames      []string     `json:"column_names"`
	Attributes       []string     `json:"attributes"`
	NewObjects       []DiffObject `json:"new_objects"`
	UpdatedObjects   []DiffObject `json:"updated_objects"`
	UnchangedObjects int          `json:"unchanged_objects"`
}

// DiffObject holds the per-column diff entries of one row.
type DiffObject struct {
	LineNumber int        `json:"line_number"`
	RowNumber  int        `json:"row_number"`
	Attributes [][]string `json:"attributes"`
	ID         string     `json:"id,omitempty"`
}

// Diff builds the transmitted diff. Model carries the entity key so a
// replay can route it back.
func (r *ImportResult) Diff() Diff {
	d := Diff{
		Filename:       r.Filename,
		Model:          r.Key,
		ColumnNames:    append([]string{}, r.Headers...),
		Attributes:     append([]string{}, r.Fields...),
		NewObjects:     []DiffObject{},
		UpdatedObjects: []DiffObject{},
	}
	for _, row := range r.Rows {
		if row.HasErrors() {
			continue
		}
		switch row.Status {
		case StatusUnchanged:
			d.UnchangedObjects++
		case StatusNew:
			d.NewObjects = append(d.NewObjects, r.diffObject(row, ""))
		case StatusUpdate:
			d.UpdatedObjects = append(d.UpdatedObjects, r.diffObject(row, row.ID))
		}
	}
	return d
}

func (r *ImportResult) diffObject(row *Row, id string) DiffObject {
	obj := DiffObject{LineNumber: row.LineNumber, RowNumber: row.RowNumber, ID: id}
	for _, col := range r.Headers {
		entry, ok := row.Diff[col]
		if !ok {
			entry = []string{""}
		}
		obj.Attributes = append(obj.Attributes, entry)
	}
	return obj
}

// FileResult pairs a file name with its result.
type FileResult struct {
	Filename string        `json:"filename"`
	Result   *ImportResult `json:"result"`
}

// MultiImportResult is the outcome of a coordinated import.
type MultiImportResult struct {
	Files []FileResult `json:"files"`
	// Errors holds file-level problems keyed by file name.
	Errors map[string][]string `json:"errors"`
}

// NewMultiImportResult creates an empty result.
func NewMultiImportResult() *MultiImportResult {
	return &MultiImportResult{Files: []FileResult{}, Errors: map[string][]string{}}
}

// AddResult appends the result of one dataset.
func (m *MultiImportResult) AddResult(filename string, res *ImportResult) {
	m.Files = append(m.Files, FileResult{Filename: filename, Result: res})
}

// AddError records a file-level problem.
func (m *MultiImportResult) AddError(filename, msg string) {
	if m.Errors == nil {
		m.Errors = make(map[string][]string)
	}
	m.Errors[filename] = append(m.Errors[filename], msg)
}

// Valid reports whether no file or row has errors.
func (m *MultiImportResult) Valid() bool {
	if len(m.Errors) > 0 {
		return false
	}
	for _, f := range m.Files {
		if !f.Result.Valid() {
			return false
		}
	}
	return true
}

// NumChanges sums new and updated rows across files.
func (m *MultiImportResult) NumChanges() int {
	n := 0
	for _, f := range m.Files {
		n += f.Result.Changes()
	}
	return n
}

// HasChanges reports whether anything would be written.
func (m *MultiImportResult) HasChanges() bool { return m.NumChanges() > 0 }

// Diffs returns the transmitted diff of every file.
func (m *MultiImportResult) Diffs() []Diff {
	out := make([]Diff, 0, len(m.Files))
	for _, f := range m.Files {
		d := f.Result.Diff()
		d.Filename = f.Filename
		out = append(out, d)
	}
	return out
}

// ErrorFiles returns the names of files with file-level errors, sorted.
func (m *MultiImportResult) ErrorFiles() []string {
	names := make([]string, 0, len(m.Errors))
	for name := range m.Errors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type multiImportJSON struct {
	Valid      bool                `json:"valid"`
	NumChanges int                 `json:"num_changes"`
	Files      []FileResult        `json:"files"`
	Errors     map[string][]string `json:"errors"`
}

// MarshalJSON adds the computed valid and num_changes fields.
func (m *MultiImportResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(multiImportJSON{
		Valid:      m.Valid(),
		NumChanges: m.NumChanges(),
		Files:      m.Files,
		Errors:     m.Errors,
	})
}

// UnmarshalJSON restores a result; computed fields are ignored.
func (m *MultiImportResult) UnmarshalJSON(data []byte) error {
	var raw multiImportJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Files = raw.Files
	if m.Files == nil {
		m.Files = []FileResult{}
	}
	m.Errors = raw.Errors
	if m.Errors == nil {
		m.Errors = map[string][]string{}
	}
	return nil
}

// ErrInvalidDiff is returned when submitted diffs cannot be decoded.
var ErrInvalidDiff = errors.New("invalid diff")

// DecodeDiffs reads diffs written by a preview. It accepts a bare array or
// an object with a "diffs" member.
func DecodeDiffs(r io.Reader) ([]Diff, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDiff, err)
	}
	raw = bytes.TrimSpace(raw)

	var diffs []Diff
	if len(raw) > 0 && raw[0] == '[' {
		err = json.Unmarshal(raw, &diffs)
	} else {
		var wrapped struct {
			Diffs []Diff `json:"diffs"`
		}
		err = json.Unmarshal(raw, &wrapped)
		diffs = wrapped.Diffs
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDiff, err)
	}
	if len(diffs) == 0 {
		return nil, fmt.Errorf("%w: no diffs", ErrInvalidDiff)
	}
	return diffs, nil
}

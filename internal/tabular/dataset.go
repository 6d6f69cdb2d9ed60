// Package tabular reads and writes the file formats an import accepts.
//
// Every format converts to and from a Dataset: a title, an ordered header
// row and rows of cell values. Readers keep cell values close to what the
// file holds (strings for text formats, strings/numbers/bools for JSON and
// YAML); callers normalize them.
package tabular

import "errors"

var (
	ErrInvalidFileType = errors.New("Invalid File Type.")
	ErrEmptyFile       = errors.New("Empty or Invalid File.")
	ErrEncoding        = errors.New("File encoding not identified.")
	ErrWriteOnly       = errors.New("format can not be read")
)

// Dataset is one table of data.
type Dataset struct {
	Title   string
	Headers []string
	Rows    [][]any
}

// NewDataset creates an empty dataset with the given headers.
func NewDataset(title string, headers []string) *Dataset {
	return &Dataset{Title: title, Headers: append([]string(nil), headers...)}
}

// Append adds a row. Missing trailing cells are padded with "".
func (d *Dataset) Append(values ...any) {
	row := make([]any, len(d.Headers))
	for i := range row {
		if i < len(values) {
			row[i] = values[i]
		} else {
			row[i] = ""
		}
	}
	d.Rows = append(d.Rows, row)
}

// Len returns the number of data rows.
func (d *Dataset) Len() int { return len(d.Rows) }

// Records returns each row as header -> value.
func (d *Dataset) Records() []map[string]any {
	out := make([]map[string]any, len(d.Rows))
	for i, r := range d.Rows {
		m := make(map[string]any, len(d.Headers))
		for j, h := range d.Headers {
			if j < len(r) {
				m[h] = r[j]
			}
		}
		out[i] = m
	}
	return out
}

// withExampleRow returns d, or a copy carrying one row of empty strings when
// d has no rows. Formats that write records instead of a header line need it
// to show the columns of an empty export.
func withExampleRow(d *Dataset) *Dataset {
	if len(d.Rows) > 0 {
		return d
	}
	c := NewDataset(d.Title, d.Headers)
	c.Append()
	return c
}

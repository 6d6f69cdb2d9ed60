package tabular

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// Format reads and writes one file type.
type Format interface {
	// Key is the short name and file extension ("csv", "xlsx").
	Key() string
	ContentType() string
	// Detect reports whether data looks like this format.
	Detect(data []byte) bool
	// Read parses data into one or more datasets.
	Read(data []byte) ([]*Dataset, error)
	Write(w io.Writer, ds *Dataset) error
}

var (
	XLSX Format = xlsxFormat{}
	CSV  Format = csvFormat{}
	JSON Format = jsonFormat{}
	YAML Format = yamlFormat{}
	TXT  Format = txtFormat{}
)

// Formats lists every format in detection order. Binary formats come first,
// CSV before JSON and YAML because it is by far the most common upload.
func Formats() []Format {
	return []Format{XLSX, CSV, JSON, YAML, TXT}
}

// ByKey returns the format with the given key, case-insensitively.
func ByKey(key string) (Format, bool) {
	key = strings.ToLower(strings.TrimPrefix(key, "."))
	for _, f := range Formats() {
		if f.Key() == key {
			return f, true
		}
	}
	return nil, false
}

// Keys returns the keys of every format.
func Keys() []string {
	var keys []string
	for _, f := range Formats() {
		keys = append(keys, f.Key())
	}
	return keys
}

// Detect returns the first format that recognizes data.
func Detect(data []byte) (Format, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, ErrEmptyFile
	}
	for _, f := range Formats() {
		if f.Detect(data) {
			return f, nil
		}
	}
	if _, _, err := DetectAndDecode(data); err != nil {
		return nil, err
	}
	return nil, ErrInvalidFileType
}

// Load detects the format of data and reads every dataset it holds.
// Datasets without headers are dropped; a file with none left is empty.
func Load(data []byte) ([]*Dataset, Format, error) {
	f, err := Detect(data)
	if err != nil {
		return nil, nil, err
	}

	sets, err := f.Read(data)
	if err != nil {
		if errors.Is(err, ErrEncoding) || errors.Is(err, ErrEmptyFile) {
			return nil, f, err
		}
		return nil, f, fmt.Errorf("%w: %v", ErrEmptyFile, err)
	}

	var out []*Dataset
	for _, ds := range sets {
		if len(ds.Headers) > 0 {
			out = append(out, ds)
		}
	}
	if len(out) == 0 {
		return nil, f, ErrEmptyFile
	}
	return out, f, nil
}

// trimHeaders trims header cells and drops trailing empty columns.
func trimHeaders(headers []string) []string {
	out := make([]string, len(headers))
	for i, h := range headers {
		out[i] = strings.TrimSpace(h)
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return out
}

// stringRows converts [][]string rows into dataset rows of width n.
func stringRows(records [][]string, n int) [][]any {
	rows := make([][]any, 0, len(records))
	for _, rec := range records {
		row := make([]any, n)
		for i := range row {
			if i < len(rec) {
				row[i] = rec[i]
			} else {
				row[i] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// cellString renders a cell for text formats.
func cellString(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}

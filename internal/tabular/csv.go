package tabular

import (
	"bytes"
	"encoding/csv"
	"io"
)

type csvFormat struct{}

func (csvFormat) Key() string         { return "csv" }
func (csvFormat) ContentType() string { return "text/csv" }

// Detect accepts decodable text that is not JSON or a YAML list of records
// and parses as CSV.
func (csvFormat) Detect(data []byte) bool {
	text, _, err := DetectAndDecode(data)
	if err != nil {
		return false
	}
	trimmed := bytes.TrimSpace(text)
	if len(trimmed) == 0 || trimmed[0] == '[' || trimmed[0] == '{' {
		return false
	}
	if isYAMLRecords(text) {
		return false
	}
	records, err := parseCSV(text)
	return err == nil && len(records) > 0
}

func (csvFormat) Read(data []byte) ([]*Dataset, error) {
	text, _, err := DetectAndDecode(data)
	if err != nil {
		return nil, err
	}
	records, err := parseCSV(text)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrEmptyFile
	}

	ds := &Dataset{Headers: trimHeaders(records[0])}
	ds.Rows = stringRows(records[1:], len(ds.Headers))
	return []*Dataset{ds}, nil
}

func (csvFormat) Write(w io.Writer, ds *Dataset) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(ds.Headers); err != nil {
		return err
	}
	for _, r := range ds.Rows {
		rec := make([]string, len(ds.Headers))
		for i := range rec {
			if i < len(r) {
				rec[i] = cellString(r[i])
			}
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func parseCSV(data []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	return r.ReadAll()
}

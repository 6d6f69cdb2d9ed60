package tabular

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

type jsonFormat struct{}

func (jsonFormat) Key() string         { return "json" }
func (jsonFormat) ContentType() string { return "application/json" }

func (jsonFormat) Detect(data []byte) bool {
	text, _, err := DetectAndDecode(data)
	if err != nil {
		return false
	}
	trimmed := bytes.TrimSpace(text)
	return len(trimmed) > 0 && trimmed[0] == '[' && json.Valid(trimmed)
}

// Read expects an array of objects. Column order follows the order keys
// first appear in.
func (jsonFormat) Read(data []byte) ([]*Dataset, error) {
	text, _, err := DetectAndDecode(data)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(text))
	dec.UseNumber()

	if err := expectDelim(dec, '['); err != nil {
		return nil, err
	}

	ds := &Dataset{}
	index := make(map[string]int)
	var records []map[string]any

	for dec.More() {
		if err := expectDelim(dec, '{'); err != nil {
			return nil, err
		}
		rec := make(map[string]any)
		for dec.More() {
			tok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, ok := tok.(string)
			if !ok {
				return nil, fmt.Errorf("expected object key, got %v", tok)
			}
			var v any
			if err := dec.Decode(&v); err != nil {
				return nil, err
			}
			if _, seen := index[key]; !seen {
				index[key] = len(ds.Headers)
				ds.Headers = append(ds.Headers, key)
			}
			rec[key] = jsonValue(v)
		}
		if err := expectDelim(dec, '}'); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := expectDelim(dec, ']'); err != nil {
		return nil, err
	}

	for _, rec := range records {
		row := make([]any, len(ds.Headers))
		for i, h := range ds.Headers {
			if v, ok := rec[h]; ok {
				row[i] = v
			} else {
				row[i] = ""
			}
		}
		ds.Rows = append(ds.Rows, row)
	}
	return []*Dataset{ds}, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("expected %q, got %v", want, tok)
	}
	return nil
}

func jsonValue(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(b)
	}
	return v
}

// Write emits an indented array of objects with keys in header order.
// An empty dataset is written with one example row so the keys show up.
func (jsonFormat) Write(w io.Writer, ds *Dataset) error {
	ds = withExampleRow(ds)

	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, r := range ds.Rows {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteByte('{')
		for j, h := range ds.Headers {
			if j > 0 {
				buf.WriteByte(',')
			}
			key, err := json.Marshal(h)
			if err != nil {
				return err
			}
			var cell any = ""
			if j < len(r) && r[j] != nil {
				cell = r[j]
			}
			val, err := json.Marshal(cell)
			if err != nil {
				return err
			}
			buf.Write(key)
			buf.WriteByte(':')
			buf.Write(val)
		}
		buf.WriteByte('}')
	}
	buf.WriteByte(']')

	var out bytes.Buffer
	if err := json.Indent(&out, buf.Bytes(), "", "  "); err != nil {
		return err
	}
	out.WriteByte('\n')
	_, err := w.Write(out.Bytes())
	return err
}

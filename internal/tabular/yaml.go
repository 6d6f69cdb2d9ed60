package tabular

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

type yamlFormat struct{}

func (yamlFormat) Key() string         { return "yaml" }
func (yamlFormat) ContentType() string { return "application/x-yaml" }

func (yamlFormat) Detect(data []byte) bool {
	text, _, err := DetectAndDecode(data)
	if err != nil {
		return false
	}
	return isYAMLRecords(text)
}

// recordsNode returns the top-level sequence of mappings, or nil.
func recordsNode(text []byte) *yaml.Node {
	var doc yaml.Node
	if err := yaml.Unmarshal(text, &doc); err != nil {
		return nil
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil
	}
	seq := doc.Content[0]
	if seq.Kind != yaml.SequenceNode || len(seq.Content) == 0 {
		return nil
	}
	for _, item := range seq.Content {
		if item.Kind != yaml.MappingNode {
			return nil
		}
	}
	return seq
}

func isYAMLRecords(text []byte) bool {
	return recordsNode(text) != nil
}

func (yamlFormat) Read(data []byte) ([]*Dataset, error) {
	text, _, err := DetectAndDecode(data)
	if err != nil {
		return nil, err
	}
	seq := recordsNode(text)
	if seq == nil {
		return nil, fmt.Errorf("expected a list of records")
	}

	ds := &Dataset{}
	index := make(map[string]int)
	records := make([]map[string]any, 0, len(seq.Content))

	for _, item := range seq.Content {
		rec := make(map[string]any, len(item.Content)/2)
		for i := 0; i+1 < len(item.Content); i += 2 {
			key := item.Content[i].Value
			var v any
			if err := item.Content[i+1].Decode(&v); err != nil {
				return nil, fmt.Errorf("line %d: %w", item.Content[i+1].Line, err)
			}
			if _, seen := index[key]; !seen {
				index[key] = len(ds.Headers)
				ds.Headers = append(ds.Headers, key)
			}
			rec[key] = v
		}
		records = append(records, rec)
	}

	for _, rec := range records {
		row := make([]any, len(ds.Headers))
		for i, h := range ds.Headers {
			if v, ok := rec[h]; ok && v != nil {
				row[i] = v
			} else {
				row[i] = ""
			}
		}
		ds.Rows = append(ds.Rows, row)
	}
	return []*Dataset{ds}, nil
}

// Write emits a list of mappings with keys in header order.
// An empty dataset is written with one example row so the keys show up.
func (yamlFormat) Write(w io.Writer, ds *Dataset) error {
	ds = withExampleRow(ds)

	seq := &yaml.Node{Kind: yaml.SequenceNode}
	for _, r := range ds.Rows {
		m := &yaml.Node{Kind: yaml.MappingNode}
		for j, h := range ds.Headers {
			var cell any = ""
			if j < len(r) && r[j] != nil {
				cell = r[j]
			}
			val := &yaml.Node{}
			if err := val.Encode(cell); err != nil {
				return err
			}
			m.Content = append(m.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: h},
				val,
			)
		}
		seq.Content = append(seq.Content, m)
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(seq); err != nil {
		return err
	}
	return enc.Close()
}

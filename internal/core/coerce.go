package core

// coerce.go converts between the text in import files and the values held
// by records. Text produced here is what diffs compare, so every value has
// exactly one text form.

import (
	"regexp"
	"strings"

	"github.com/JonMunkholm/multiimport/internal/schema"
)

// ListSeparator joins the items of a to-many column on export. Imports
// also accept commas.
const ListSeparator = ";"

func isListSeparator(r rune) bool { return r == ';' || r == ',' }

var lineBreaks = regexp.MustCompile(`\r\n?`)

// NormalizeString trims surrounding whitespace and unifies line breaks.
func NormalizeString(s string) string {
	return strings.TrimSpace(lineBreaks.ReplaceAllString(s, "\n"))
}

// ExcelEscape neutralizes values a spreadsheet would evaluate as a formula.
// Applied to exported cells only.
func ExcelEscape(s string) string {
	if s == "" {
		return s
	}
	switch s[0] {
	case '=', '+', '-', '@':
		return " " + s
	}
	return s
}

// ToString renders the value held for a mapping.
// To-one values render through the mapping's lookup attributes; to-many
// values join their items with ListSeparator.
func ToString(m *BoundMapping, v any) string {
	if v == nil {
		return ""
	}
	switch m.Kind {
	case schema.KindToOne:
		rec, _ := v.(*schema.Record)
		return representation(m, rec)
	case schema.KindToMany:
		recs, _ := v.([]*schema.Record)
		parts := make([]string, 0, len(recs))
		for _, rec := range recs {
			parts = append(parts, representation(m, rec))
		}
		return strings.Join(parts, ListSeparator)
	}
	if m.field != nil {
		return NormalizeString(schema.Format(m.field, v))
	}
	return NormalizeString(schema.Format(&schema.Field{}, v))
}

// FromString splits a to-many cell into its items; other kinds return the
// normalized text unchanged. Typed parsing happens during validation.
func FromString(m *BoundMapping, s string) any {
	s = NormalizeString(s)
	if m.Kind != schema.KindToMany {
		return s
	}
	return SplitList(s)
}

// listItems decodes a to-many cell into its items.
func listItems(m *BoundMapping, raw string) []string {
	items, _ := FromString(m, raw).([]string)
	return items
}

// SplitList splits on semicolons and commas and drops blank items.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, isListSeparator) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func representation(m *BoundMapping, rec *schema.Record) string {
	if rec == nil {
		return ""
	}
	for _, attr := range m.LookupFields {
		if v := rec.Attr(attr); v != "" {
			return NormalizeString(v)
		}
	}
	return ""
}

// valueOf returns what a record holds for a mapping.
func valueOf(m *BoundMapping, rec *schema.Record) any {
	if rec == nil {
		return nil
	}
	switch {
	case m.prop != nil:
		return m.prop.Get(rec)
	case m.keyAttr:
		if rec.Key() == "" {
			return nil
		}
		return rec.Key()
	}
	return rec.Value(m.Field)
}

// columnString renders a record's value for a mapping.
func columnString(m *BoundMapping, rec *schema.Record) string {
	return ToString(m, valueOf(m, rec))
}

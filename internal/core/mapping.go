package core

import (
	"fmt"
	"sort"

	"github.com/JonMunkholm/multiimport/internal/schema"
)

// DefaultRelatedLookups are tried, in order, to identify a related record
// when a mapping does not name its own lookup attributes. Attributes the
// related model lacks are dropped.
var DefaultRelatedLookups = []string{"universal_id", "pk", "title", "name", "text"}

// Mapping ties one file column to one model attribute.
type Mapping struct {
	Column       string   // Header name in import files
	Field        string   // Model attribute; defaults to Column
	ReadOnly     bool     // Exported but never written
	LookupFields []string // Relationships only: attributes identifying the related record
	Pass         int      // Validation pass; later passes run after every row finished earlier ones
}

// BoundMapping is a Mapping checked against its model.
type BoundMapping struct {
	Mapping
	Kind      schema.FieldKind
	Related   *schema.Model
	ModelInit bool // Usable when constructing a new record

	field   *schema.Field
	prop    *schema.Property
	keyAttr bool
}

// IsRelationship reports whether the column references other records.
func (m *BoundMapping) IsRelationship() bool { return m.Kind != schema.KindScalar }

// IsForeignKey reports whether the column references exactly one record.
func (m *BoundMapping) IsForeignKey() bool { return m.Kind == schema.KindToOne }

// IsOneToMany reports whether the column references a list of records.
func (m *BoundMapping) IsOneToMany() bool { return m.Kind == schema.KindToMany }

// Writable reports whether imports may change the attribute.
func (m *BoundMapping) Writable() bool { return !m.ReadOnly }

// SchemaField returns the underlying field, or nil for properties and keys.
func (m *BoundMapping) SchemaField() *schema.Field { return m.field }

// Descriptor declares how one entity type is imported and exported.
type Descriptor struct {
	Key      string
	Model    string
	IDColumn string // Column whose presence identifies a dataset as this entity
	Mappings []Mapping

	// LookupFields are tried in order to match a row to an existing record.
	LookupFields []LookupKey

	// CanUpdate decides whether an existing record may be changed.
	// nil allows every update.
	CanUpdate func(*schema.Record) bool
}

// Entity is a Descriptor bound to a catalog.
type Entity struct {
	Descriptor
	model    *schema.Model
	mappings []*BoundMapping
	byColumn map[string]*BoundMapping
	byField  map[string]*BoundMapping
}

// Bind validates d against cat. Every error is a configuration mistake.
func Bind(d Descriptor, cat *schema.Catalog) (*Entity, error) {
	if d.Key == "" {
		return nil, fmt.Errorf("entity key is required")
	}
	model, ok := cat.Get(d.Model)
	if !ok {
		return nil, fmt.Errorf("entity %s: unknown model %q", d.Key, d.Model)
	}
	if len(d.Mappings) == 0 {
		return nil, fmt.Errorf("entity %s: no columns", d.Key)
	}

	e := &Entity{
		Descriptor: d,
		model:      model,
		byColumn:   make(map[string]*BoundMapping),
		byField:    make(map[string]*BoundMapping),
	}

	for _, mp := range d.Mappings {
		bm, err := bindMapping(mp, model, cat)
		if err != nil {
			return nil, fmt.Errorf("entity %s: %w", d.Key, err)
		}
		if _, dup := e.byColumn[bm.Column]; dup {
			return nil, fmt.Errorf("entity %s: duplicate column %q", d.Key, bm.Column)
		}
		e.mappings = append(e.mappings, bm)
		e.byColumn[bm.Column] = bm
		if _, seen := e.byField[bm.Field]; !seen {
			e.byField[bm.Field] = bm
		}
	}

	if d.IDColumn == "" {
		e.IDColumn = e.mappings[0].Column
	} else if _, ok := e.byColumn[d.IDColumn]; !ok {
		return nil, fmt.Errorf("entity %s: id column %q is not a column", d.Key, d.IDColumn)
	}

	if len(d.LookupFields) == 0 {
		return nil, fmt.Errorf("entity %s: no lookup fields", d.Key)
	}
	scalarKey := false
	for _, key := range d.LookupFields {
		if len(key) == 0 {
			return nil, fmt.Errorf("entity %s: empty lookup key", d.Key)
		}
		allScalar := true
		for _, f := range key {
			if !model.HasAttr(f) {
				return nil, fmt.Errorf("entity %s: lookup field %q is not an attribute of %s", d.Key, f, model.Name)
			}
			if sf, ok := model.Field(f); ok && sf.IsRelationship() {
				allScalar = false
			}
		}
		if allScalar {
			scalarKey = true
		}
	}
	if !scalarKey {
		return nil, fmt.Errorf("entity %s: at least one lookup key must use non-relationship attributes", d.Key)
	}

	return e, nil
}

func bindMapping(mp Mapping, model *schema.Model, cat *schema.Catalog) (*BoundMapping, error) {
	if mp.Column == "" {
		return nil, fmt.Errorf("column name is required")
	}
	if mp.Field == "" {
		mp.Field = mp.Column
	}
	bm := &BoundMapping{Mapping: mp}

	switch {
	case schema.IsKeyAttr(mp.Field):
		bm.keyAttr = true
		bm.ReadOnly = true
		return bm, nil
	}

	if p, ok := model.Property(mp.Field); ok {
		bm.prop = p
		bm.ReadOnly = true
		return bm, nil
	}

	f, ok := model.Field(mp.Field)
	if !ok {
		return nil, fmt.Errorf("column %q: %s has no attribute %q", mp.Column, model.Name, mp.Field)
	}
	bm.field = f
	bm.Kind = f.Kind
	bm.ModelInit = f.Kind != schema.KindToMany && !mp.ReadOnly

	if !f.IsRelationship() {
		if len(mp.LookupFields) > 0 {
			return nil, fmt.Errorf("column %q: lookup fields only apply to relationships", mp.Column)
		}
		return bm, nil
	}

	related, _ := cat.Get(f.Related)
	bm.Related = related

	if len(mp.LookupFields) == 0 {
		for _, attr := range DefaultRelatedLookups {
			if related.HasAttr(attr) {
				bm.LookupFields = append(bm.LookupFields, attr)
			}
		}
		return bm, nil
	}
	for _, attr := range mp.LookupFields {
		if !related.HasAttr(attr) {
			return nil, fmt.Errorf("column %q: %s has no attribute %q", mp.Column, related.Name, attr)
		}
	}
	bm.LookupFields = append([]string(nil), mp.LookupFields...)
	return bm, nil
}

// Model returns the bound model.
func (e *Entity) Model() *schema.Model { return e.model }

// Mappings returns every mapping in declaration order.
func (e *Entity) Mappings() []*BoundMapping { return e.mappings }

// Columns returns every column name in declaration order.
func (e *Entity) Columns() []string {
	out := make([]string, len(e.mappings))
	for i, m := range e.mappings {
		out[i] = m.Column
	}
	return out
}

// MappingForColumn returns the mapping of a column.
func (e *Entity) MappingForColumn(column string) (*BoundMapping, bool) {
	m, ok := e.byColumn[column]
	return m, ok
}

// MappingForField returns the first mapping of a model attribute.
func (e *Entity) MappingForField(field string) (*BoundMapping, bool) {
	m, ok := e.byField[field]
	return m, ok
}

// Writable returns mappings imports may change.
func (e *Entity) Writable() []*BoundMapping {
	var out []*BoundMapping
	for _, m := range e.mappings {
		if m.Writable() {
			out = append(out, m)
		}
	}
	return out
}

// FilterByColumns returns the mappings present in headers, in declaration
// order. Unknown headers are ignored.
func (e *Entity) FilterByColumns(headers []string) []*BoundMapping {
	present := make(map[string]bool, len(headers))
	for _, h := range headers {
		present[h] = true
	}
	var out []*BoundMapping
	for _, m := range e.mappings {
		if present[m.Column] {
			out = append(out, m)
		}
	}
	return out
}

// Dependencies returns the models this entity's writable relationships
// point at, excluding its own model.
func (e *Entity) Dependencies() []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range e.mappings {
		if !m.IsRelationship() || !m.Writable() {
			continue
		}
		name := m.Related.Name
		if name == e.model.Name || seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}

// Passes returns the distinct validation passes of writable mappings in
// ascending order. There is always at least pass 0.
func (e *Entity) Passes() []int {
	seen := map[int]bool{0: true}
	out := []int{0}
	for _, m := range e.mappings {
		if m.Writable() && !seen[m.Pass] {
			seen[m.Pass] = true
			out = append(out, m.Pass)
		}
	}
	sort.Ints(out)
	return out
}

// fieldData converts column-keyed row data to attribute-keyed data for
// lookups. Only columns the row submitted are included.
func (e *Entity) fieldData(row *Row) map[string]string {
	out := make(map[string]string, len(row.Data))
	for col, v := range row.Data {
		m, ok := e.byColumn[col]
		if !ok {
			continue
		}
		if _, exists := out[m.Field]; !exists || v != "" {
			out[m.Field] = v
		}
	}
	return out
}

// lookupAttr reads attributes the way rows present them, so cached records
// and row data compare equal. Relationships render through their mapping.
func (e *Entity) lookupAttr(rec *schema.Record, attr string) string {
	if m, ok := e.byField[attr]; ok {
		return columnString(m, rec)
	}
	return rec.Attr(attr)
}

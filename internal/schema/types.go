// Package schema describes the entity models an import can touch and the
// in-memory records that carry their values between the store and the
// import engine.
package schema

import (
	"fmt"
	"sort"
)

// FieldType represents the expected data type for a scalar field.
type FieldType int

const (
	FieldText FieldType = iota
	FieldEnum
	FieldDate
	FieldNumeric
	FieldBool
	FieldInteger
)

func (t FieldType) String() string {
	switch t {
	case FieldEnum:
		return "enum"
	case FieldDate:
		return "date"
	case FieldNumeric:
		return "numeric"
	case FieldBool:
		return "bool"
	case FieldInteger:
		return "integer"
	default:
		return "text"
	}
}

// ParseFieldType maps a catalog type name to a FieldType.
func ParseFieldType(s string) (FieldType, error) {
	switch s {
	case "", "text", "string":
		return FieldText, nil
	case "enum", "choice":
		return FieldEnum, nil
	case "date":
		return FieldDate, nil
	case "numeric", "decimal", "number":
		return FieldNumeric, nil
	case "bool", "boolean":
		return FieldBool, nil
	case "int", "integer":
		return FieldInteger, nil
	}
	return FieldText, fmt.Errorf("unknown field type %q", s)
}

// FieldKind distinguishes plain values from references to other records.
type FieldKind int

const (
	KindScalar FieldKind = iota
	KindToOne
	KindToMany
)

func (k FieldKind) String() string {
	switch k {
	case KindToOne:
		return "to_one"
	case KindToMany:
		return "to_many"
	default:
		return "scalar"
	}
}

// ParseFieldKind maps a catalog kind name to a FieldKind.
func ParseFieldKind(s string) (FieldKind, error) {
	switch s {
	case "", "scalar":
		return KindScalar, nil
	case "to_one", "foreign_key", "fk":
		return KindToOne, nil
	case "to_many", "many_to_many", "m2m":
		return KindToMany, nil
	}
	return KindScalar, fmt.Errorf("unknown field kind %q", s)
}

// Field defines a settable attribute of a model.
type Field struct {
	Name       string
	Kind       FieldKind
	Type       FieldType           // Scalar fields only
	Related    string              // Related model name for KindToOne / KindToMany
	Required   bool                // Value must be present after an import
	Unique     bool                // Enforced by the store on save
	EnumValues []string            // Valid values for FieldEnum type
	Normalizer Normalizer          // Optional transformation applied before parsing
}

// IsRelationship reports whether the field references other records.
func (f *Field) IsRelationship() bool {
	return f.Kind != KindScalar
}

// Property is a computed, read-only attribute of a model.
type Property struct {
	Name string
	Get  func(*Record) string
}

// Model is the definition of one entity type.
type Model struct {
	Name       string
	Fields     []Field
	Properties []Property

	// Validate runs model-level checks after field validation succeeded.
	Validate func(*Record) ValidationErrors
}

// Field returns the named field definition.
func (m *Model) Field(name string) (*Field, bool) {
	for i := range m.Fields {
		if m.Fields[i].Name == name {
			return &m.Fields[i], true
		}
	}
	return nil, false
}

// Property returns the named computed property.
func (m *Model) Property(name string) (*Property, bool) {
	for i := range m.Properties {
		if m.Properties[i].Name == name {
			return &m.Properties[i], true
		}
	}
	return nil, false
}

// HasAttr reports whether name can be read from records of this model.
// "pk" and "id" always refer to the record key.
func (m *Model) HasAttr(name string) bool {
	if IsKeyAttr(name) {
		return true
	}
	if _, ok := m.Field(name); ok {
		return true
	}
	_, ok := m.Property(name)
	return ok
}

// IsKeyAttr reports whether name is an alias for the record key.
func IsKeyAttr(name string) bool {
	return name == "pk" || name == "id"
}

// Catalog is the set of models known to an import engine.
type Catalog struct {
	models map[string]*Model
	order  []string
}

// NewCatalog checks that every relationship points at a known model.
func NewCatalog(models ...*Model) (*Catalog, error) {
	c := &Catalog{models: make(map[string]*Model, len(models))}
	for _, m := range models {
		if m.Name == "" {
			return nil, fmt.Errorf("model name is required")
		}
		if _, exists := c.models[m.Name]; exists {
			return nil, fmt.Errorf("model already defined: %s", m.Name)
		}
		c.models[m.Name] = m
		c.order = append(c.order, m.Name)
	}

	for _, m := range models {
		seen := make(map[string]bool)
		for _, f := range m.Fields {
			if f.Name == "" || IsKeyAttr(f.Name) {
				return nil, fmt.Errorf("model %s: invalid field name %q", m.Name, f.Name)
			}
			if seen[f.Name] {
				return nil, fmt.Errorf("model %s: duplicate field %s", m.Name, f.Name)
			}
			seen[f.Name] = true
			if f.IsRelationship() {
				if _, ok := c.models[f.Related]; !ok {
					return nil, fmt.Errorf("model %s: field %s references unknown model %q", m.Name, f.Name, f.Related)
				}
			}
			if f.Type == FieldEnum && len(f.EnumValues) == 0 {
				return nil, fmt.Errorf("model %s: enum field %s has no values", m.Name, f.Name)
			}
		}
		for _, p := range m.Properties {
			if seen[p.Name] || p.Get == nil {
				return nil, fmt.Errorf("model %s: invalid property %q", m.Name, p.Name)
			}
			seen[p.Name] = true
		}
	}
	return c, nil
}

// Get returns a model by name.
func (c *Catalog) Get(name string) (*Model, bool) {
	m, ok := c.models[name]
	return m, ok
}

// Models returns all models in definition order.
func (c *Catalog) Models() []*Model {
	out := make([]*Model, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.models[name])
	}
	return out
}

// Names returns the model names sorted alphabetically.
func (c *Catalog) Names() []string {
	names := append([]string(nil), c.order...)
	sort.Strings(names)
	return names
}

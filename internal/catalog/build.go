package catalog

import (
	"fmt"
	"strings"

	"github.com/JonMunkholm/multiimport/internal/core"
	"github.com/JonMunkholm/multiimport/internal/schema"
)

// Build turns the file into a schema catalog and entity descriptors.
func (f *File) Build() (*schema.Catalog, []core.Descriptor, error) {
	models := make([]*schema.Model, 0, len(f.Models))
	for _, ms := range f.Models {
		m, err := ms.build()
		if err != nil {
			return nil, nil, err
		}
		models = append(models, m)
	}

	cat, err := schema.NewCatalog(models...)
	if err != nil {
		return nil, nil, err
	}

	descs := make([]core.Descriptor, 0, len(f.Entities))
	for _, es := range f.Entities {
		d, err := es.build(cat, f.Settings)
		if err != nil {
			return nil, nil, err
		}
		descs = append(descs, d)
	}
	return cat, descs, nil
}

func (ms ModelSpec) build() (*schema.Model, error) {
	m := &schema.Model{Name: ms.Name}

	for _, fs := range ms.Fields {
		fld := schema.Field{
			Name:       fs.Name,
			Related:    fs.Related,
			Required:   fs.Required,
			Unique:     fs.Unique,
			EnumValues: fs.Enum,
		}

		var err error
		if fld.Kind, err = schema.ParseFieldKind(fs.Kind); err != nil {
			return nil, fmt.Errorf("model %s: field %s: %w", ms.Name, fs.Name, err)
		}
		if fld.Type, err = schema.ParseFieldType(fs.Type); err != nil {
			return nil, fmt.Errorf("model %s: field %s: %w", ms.Name, fs.Name, err)
		}
		if fs.Normalizer != "" {
			fn, ok := schema.LookupNormalizer(fs.Normalizer)
			if !ok {
				return nil, fmt.Errorf("model %s: field %s: unknown normalizer %q (have %s)",
					ms.Name, fs.Name, fs.Normalizer, strings.Join(schema.NormalizerNames(), ", "))
			}
			fld.Normalizer = fn
		}
		m.Fields = append(m.Fields, fld)
	}

	for _, ps := range ms.Properties {
		if len(ps.Concat) == 0 {
			return nil, fmt.Errorf("model %s: property %s: concat is required", ms.Name, ps.Name)
		}
		m.Properties = append(m.Properties, schema.Property{
			Name: ps.Name,
			Get:  concatProperty(ps.Concat, ps.Separator),
		})
	}
	return m, nil
}

// concatProperty joins the non-empty values of attrs.
func concatProperty(attrs []string, sep string) func(*schema.Record) string {
	if sep == "" {
		sep = " "
	}
	return func(rec *schema.Record) string {
		parts := make([]string, 0, len(attrs))
		for _, a := range attrs {
			if v := rec.Attr(a); v != "" {
				parts = append(parts, v)
			}
		}
		return strings.Join(parts, sep)
	}
}

func (es EntitySpec) build(cat *schema.Catalog, settings Settings) (core.Descriptor, error) {
	d := core.Descriptor{
		Key:      es.Key,
		Model:    es.Model,
		IDColumn: es.IDColumn,
	}

	model, ok := cat.Get(es.Model)
	if !ok {
		return d, fmt.Errorf("entity %s: unknown model %q", es.Key, es.Model)
	}

	for _, ms := range es.Mappings {
		mp := core.Mapping{
			Column:       ms.Column,
			Field:        ms.Field,
			ReadOnly:     ms.ReadOnly,
			LookupFields: ms.LookupFields,
			Pass:         ms.Pass,
		}
		if len(mp.LookupFields) == 0 && len(settings.RelatedLookups) > 0 {
			mp.LookupFields = relatedLookups(cat, model, mp, settings.RelatedLookups)
		}
		d.Mappings = append(d.Mappings, mp)
	}

	for _, lf := range es.LookupFields {
		d.LookupFields = append(d.LookupFields, core.Compound(lf...))
	}

	canUpdate := settings.CanUpdate
	if es.CanUpdate != nil {
		canUpdate = *es.CanUpdate
	}
	d.CanUpdate = updatePolicy(canUpdate, es.LockedWhen)
	return d, nil
}

// relatedLookups keeps the configured lookup attributes the related model
// actually has. Scalar mappings get none.
func relatedLookups(cat *schema.Catalog, model *schema.Model, mp core.Mapping, lookups []string) []string {
	name := mp.Field
	if name == "" {
		name = mp.Column
	}
	fld, ok := model.Field(name)
	if !ok || !fld.IsRelationship() {
		return nil
	}
	related, ok := cat.Get(fld.Related)
	if !ok {
		return nil
	}
	var out []string
	for _, attr := range lookups {
		if related.HasAttr(attr) {
			out = append(out, attr)
		}
	}
	return out
}

// updatePolicy returns nil when every record may be updated.
func updatePolicy(allowed bool, lockedWhen map[string]string) func(*schema.Record) bool {
	if !allowed {
		return func(*schema.Record) bool { return false }
	}
	if len(lockedWhen) == 0 {
		return nil
	}
	return func(rec *schema.Record) bool {
		for attr, value := range lockedWhen {
			if strings.EqualFold(rec.Attr(attr), value) {
				return false
			}
		}
		return true
	}
}

// LoadDescriptors loads and builds the catalog at path.
func LoadDescriptors(path string) (*schema.Catalog, []core.Descriptor, error) {
	f, err := Load(path)
	if err != nil {
		return nil, nil, err
	}
	return f.Build()
}

package schema

import (
	"strconv"
	"sync/atomic"
)

var tokenSeq atomic.Uint64

// EntityRef identifies a record either by its store key or, before the
// record has been persisted, by a process-unique token.
type EntityRef struct {
	key   string
	token uint64
}

// Unsaved returns a reference to a record that has no store key yet.
func Unsaved(token uint64) EntityRef { return EntityRef{token: token} }

// Saved returns a reference to a persisted record.
func Saved(key string) EntityRef { return EntityRef{key: key} }

// IsSaved reports whether the reference carries a store key.
func (r EntityRef) IsSaved() bool { return r.key != "" }

// Key returns the store key, or "" for unsaved references.
func (r EntityRef) Key() string { return r.key }

// Token returns the unsaved token, or 0 for saved references.
func (r EntityRef) Token() uint64 { return r.token }

func (r EntityRef) String() string {
	if r.key != "" {
		return r.key
	}
	return "unsaved:" + strconv.FormatUint(r.token, 10)
}

// Record holds the values of one entity.
// Scalar values are kept in their typed form (see Parse).
type Record struct {
	Model *Model

	key    string
	token  uint64
	values map[string]any
	one    map[string]*Record
	many   map[string][]*Record
}

// NewRecord creates an empty, unsaved record.
func NewRecord(m *Model) *Record {
	return &Record{
		Model:  m,
		token:  tokenSeq.Add(1),
		values: make(map[string]any),
		one:    make(map[string]*Record),
		many:   make(map[string][]*Record),
	}
}

// Ref returns the identity of the record.
func (r *Record) Ref() EntityRef {
	if r.key != "" {
		return Saved(r.key)
	}
	return Unsaved(r.token)
}

// Key returns the store key, or "" if the record was never saved.
func (r *Record) Key() string { return r.key }

// Saved reports whether the record has a store key.
func (r *Record) Saved() bool { return r.key != "" }

// MarkSaved assigns the store key. Called by stores after a successful save.
func (r *Record) MarkSaved(key string) { r.key = key }

// Get returns the typed value of a scalar field.
func (r *Record) Get(field string) any { return r.values[field] }

// Set stores the typed value of a scalar field. nil clears it.
func (r *Record) Set(field string, v any) {
	if v == nil {
		delete(r.values, field)
		return
	}
	r.values[field] = v
}

// One returns the record referenced by a to-one field.
func (r *Record) One(field string) *Record { return r.one[field] }

// SetOne sets a to-one reference. nil clears it.
func (r *Record) SetOne(field string, v *Record) {
	if v == nil {
		delete(r.one, field)
		return
	}
	r.one[field] = v
}

// Many returns the records referenced by a to-many field.
func (r *Record) Many(field string) []*Record { return r.many[field] }

// SetMany replaces a to-many reference list.
func (r *Record) SetMany(field string, v []*Record) {
	if len(v) == 0 {
		delete(r.many, field)
		return
	}
	r.many[field] = append([]*Record(nil), v...)
}

// Value returns whatever is stored for field regardless of its kind.
func (r *Record) Value(field string) any {
	f, ok := r.Model.Field(field)
	if !ok {
		return nil
	}
	switch f.Kind {
	case KindToOne:
		if v := r.one[field]; v != nil {
			return v
		}
		return nil
	case KindToMany:
		if v := r.many[field]; len(v) > 0 {
			return v
		}
		return nil
	}
	return r.values[field]
}

// Attr returns the text form of a readable attribute.
// Relationships render as the key of the related record(s).
func (r *Record) Attr(name string) string {
	if IsKeyAttr(name) {
		return r.key
	}
	if f, ok := r.Model.Field(name); ok {
		switch f.Kind {
		case KindToOne:
			if rel := r.one[name]; rel != nil {
				return rel.key
			}
			return ""
		case KindToMany:
			keys := ""
			for i, rel := range r.many[name] {
				if i > 0 {
					keys += ","
				}
				keys += rel.key
			}
			return keys
		}
		return Format(f, r.values[name])
	}
	if p, ok := r.Model.Property(name); ok {
		return p.Get(r)
	}
	return ""
}

// Clone returns a copy sharing the identity (key and token) of r.
// Related records are shared, not copied.
func (r *Record) Clone() *Record {
	c := &Record{
		Model:  r.Model,
		key:    r.key,
		token:  r.token,
		values: make(map[string]any, len(r.values)),
		one:    make(map[string]*Record, len(r.one)),
		many:   make(map[string][]*Record, len(r.many)),
	}
	for k, v := range r.values {
		c.values[k] = v
	}
	for k, v := range r.one {
		c.one[k] = v
	}
	for k, v := range r.many {
		c.many[k] = append([]*Record(nil), v...)
	}
	return c
}

// Assign copies all values of src into r, keeping r's identity.
func (r *Record) Assign(src *Record) {
	r.values = make(map[string]any, len(src.values))
	for k, v := range src.values {
		r.values[k] = v
	}
	r.one = make(map[string]*Record, len(src.one))
	for k, v := range src.one {
		r.one[k] = v
	}
	r.many = make(map[string][]*Record, len(src.many))
	for k, v := range src.many {
		r.many[k] = append([]*Record(nil), v...)
	}
}

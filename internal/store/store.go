// Package store persists schema records for the import engine.
//
// Every backend (memory, SQLite, Postgres) stores a record as one row of
// canonical text values plus the keys of the records it references. The
// shared graphTx turns those rows back into linked schema.Record values and
// keeps one Record per key for the lifetime of a transaction, so changes made
// earlier in an import are visible to later lookups.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/JonMunkholm/multiimport/internal/schema"
)

var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("store: record not found")

	// ErrUnknownModel is returned for models missing from the catalog.
	ErrUnknownModel = errors.New("store: unknown model")

	// ErrUnknownAttr is returned by Find for attributes the model does not have.
	ErrUnknownAttr = errors.New("store: unknown attribute")

	// ErrTxDone is returned when a finished transaction is used again.
	ErrTxDone = errors.New("store: transaction already finished")
)

// Store opens transactions against a backend.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	Close() error
}

// Tx is a unit of work. Nothing is visible outside the transaction until
// Commit succeeds. Rollback after Commit is a no-op.
type Tx interface {
	// All returns every record of the model in insertion order.
	All(ctx context.Context, model string) ([]*schema.Record, error)

	// Get returns the record with the given key or ErrNotFound.
	Get(ctx context.Context, model, key string) (*schema.Record, error)

	// Find returns records whose attribute renders as value.
	Find(ctx context.Context, model, attr, value string) ([]*schema.Record, error)

	// Save inserts unsaved records and updates saved ones. Unique
	// violations come back as schema.ValidationErrors.
	Save(ctx context.Context, rec *schema.Record) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// row is the persisted form of a record.
type row struct {
	ID    string
	Data  map[string]string
	Links map[string][]string
}

func (r row) clone() row {
	c := row{ID: r.ID, Data: make(map[string]string, len(r.Data)), Links: make(map[string][]string, len(r.Links))}
	for k, v := range r.Data {
		c.Data[k] = v
	}
	for k, v := range r.Links {
		c.Links[k] = append([]string(nil), v...)
	}
	return c
}

// backend is the per-transaction row access a store provides.
type backend interface {
	selectRows(ctx context.Context, model string) ([]row, error)
	insertRow(ctx context.Context, model string, r row) error
	updateRow(ctx context.Context, model string, r row) error
	commit(ctx context.Context) error
	rollback(ctx context.Context) error
}

type graphTx struct {
	cat     *schema.Catalog
	b       backend
	loaded  map[string]bool
	records map[string]map[string]*schema.Record
	order   map[string][]string
	done    bool
}

func newGraphTx(cat *schema.Catalog, b backend) *graphTx {
	return &graphTx{
		cat:     cat,
		b:       b,
		loaded:  make(map[string]bool),
		records: make(map[string]map[string]*schema.Record),
		order:   make(map[string][]string),
	}
}

func (g *graphTx) model(name string) (*schema.Model, error) {
	m, ok := g.cat.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	return m, nil
}

// load reads every row of a model once. Records are registered before their
// links are resolved so self references and cycles between models terminate.
func (g *graphTx) load(ctx context.Context, name string) error {
	if g.done {
		return ErrTxDone
	}
	if g.loaded[name] {
		return nil
	}
	m, err := g.model(name)
	if err != nil {
		return err
	}
	g.loaded[name] = true

	rows, err := g.b.selectRows(ctx, name)
	if err != nil {
		return fmt.Errorf("load %s: %w", name, err)
	}

	byKey := make(map[string]*schema.Record, len(rows))
	recs := make([]*schema.Record, len(rows))
	for i, r := range rows {
		rec := schema.NewRecord(m)
		for fi := range m.Fields {
			f := &m.Fields[fi]
			if f.IsRelationship() {
				continue
			}
			v, err := schema.Decode(f, r.Data[f.Name])
			if err != nil {
				return fmt.Errorf("load %s %s: field %s: %w", name, r.ID, f.Name, err)
			}
			rec.Set(f.Name, v)
		}
		rec.MarkSaved(r.ID)
		byKey[r.ID] = rec
		recs[i] = rec
		g.order[name] = append(g.order[name], r.ID)
	}
	g.records[name] = byKey

	for i, r := range rows {
		for fi := range m.Fields {
			f := &m.Fields[fi]
			if !f.IsRelationship() {
				continue
			}
			var targets []*schema.Record
			for _, key := range r.Links[f.Name] {
				t, err := g.Get(ctx, f.Related, key)
				if errors.Is(err, ErrNotFound) {
					continue
				}
				if err != nil {
					return err
				}
				targets = append(targets, t)
			}
			if f.Kind == schema.KindToOne {
				if len(targets) > 0 {
					recs[i].SetOne(f.Name, targets[0])
				}
				continue
			}
			recs[i].SetMany(f.Name, targets)
		}
	}
	return nil
}

func (g *graphTx) All(ctx context.Context, model string) ([]*schema.Record, error) {
	if err := g.load(ctx, model); err != nil {
		return nil, err
	}
	out := make([]*schema.Record, 0, len(g.order[model]))
	for _, key := range g.order[model] {
		out = append(out, g.records[model][key])
	}
	return out, nil
}

func (g *graphTx) Get(ctx context.Context, model, key string) (*schema.Record, error) {
	if err := g.load(ctx, model); err != nil {
		return nil, err
	}
	rec, ok := g.records[model][key]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, model, key)
	}
	return rec, nil
}

func (g *graphTx) Find(ctx context.Context, model, attr, value string) ([]*schema.Record, error) {
	m, err := g.model(model)
	if err != nil {
		return nil, err
	}
	if !m.HasAttr(attr) {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownAttr, model, attr)
	}
	all, err := g.All(ctx, model)
	if err != nil {
		return nil, err
	}
	var out []*schema.Record
	for _, rec := range all {
		if rec.Attr(attr) == value {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (g *graphTx) Save(ctx context.Context, rec *schema.Record) error {
	name := rec.Model.Name
	if err := g.load(ctx, name); err != nil {
		return err
	}
	if errs := g.checkUnique(rec); len(errs) > 0 {
		return errs
	}

	r, err := toRow(rec)
	if err != nil {
		return err
	}

	if !rec.Saved() {
		r.ID = uuid.NewString()
		if err := g.b.insertRow(ctx, name, r); err != nil {
			return fmt.Errorf("insert %s: %w", name, err)
		}
		rec.MarkSaved(r.ID)
		g.records[name][r.ID] = rec
		g.order[name] = append(g.order[name], r.ID)
		return nil
	}

	r.ID = rec.Key()
	if err := g.b.updateRow(ctx, name, r); err != nil {
		return fmt.Errorf("update %s %s: %w", name, r.ID, err)
	}
	if existing := g.records[name][r.ID]; existing != nil && existing != rec {
		existing.Assign(rec)
	}
	return nil
}

func (g *graphTx) checkUnique(rec *schema.Record) schema.ValidationErrors {
	var errs schema.ValidationErrors
	for _, f := range rec.Model.Fields {
		if !f.Unique || f.IsRelationship() {
			continue
		}
		v := rec.Attr(f.Name)
		if v == "" {
			continue
		}
		for _, key := range g.order[rec.Model.Name] {
			if key == rec.Key() {
				continue
			}
			if g.records[rec.Model.Name][key].Attr(f.Name) == v {
				errs = append(errs, schema.ValidationError{
					Field:   f.Name,
					Value:   v,
					Message: fmt.Sprintf("%s with this %s already exists.", rec.Model.Name, f.Name),
				})
				break
			}
		}
	}
	return errs
}

func toRow(rec *schema.Record) (row, error) {
	r := row{Data: make(map[string]string), Links: make(map[string][]string)}
	for i := range rec.Model.Fields {
		f := &rec.Model.Fields[i]
		switch f.Kind {
		case schema.KindToOne:
			if t := rec.One(f.Name); t != nil {
				if !t.Saved() {
					return row{}, fmt.Errorf("store: %s.%s references an unsaved record", rec.Model.Name, f.Name)
				}
				r.Links[f.Name] = []string{t.Key()}
			}
		case schema.KindToMany:
			for _, t := range rec.Many(f.Name) {
				if !t.Saved() {
					return row{}, fmt.Errorf("store: %s.%s references an unsaved record", rec.Model.Name, f.Name)
				}
				r.Links[f.Name] = append(r.Links[f.Name], t.Key())
			}
		default:
			if s := schema.Format(f, rec.Get(f.Name)); s != "" {
				r.Data[f.Name] = s
			}
		}
	}
	return r, nil
}

func (g *graphTx) Commit(ctx context.Context) error {
	if g.done {
		return ErrTxDone
	}
	g.done = true
	return g.b.commit(ctx)
}

func (g *graphTx) Rollback(ctx context.Context) error {
	if g.done {
		return nil
	}
	g.done = true
	return g.b.rollback(ctx)
}

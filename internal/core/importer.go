package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/multiimport/internal/schema"
	"github.com/JonMunkholm/multiimport/internal/store"
)

// Row error messages.
const (
	msgMultipleMatches = "Multiple database entries match."
	msgUpdatedTwice    = "This item is being updated more than once."
	msgCannotUpdate    = "Can not update this item."
	msgMissingTarget   = "Could not find item with id \"%s\"."
)

// Batch is one dataset routed to an entity.
type Batch struct {
	Filename string
	Headers  []string
	Rows     []*Row
}

// Importer runs the row pipeline for one entity.
type Importer struct {
	entity *Entity
}

// NewImporter creates an importer for a bound entity.
func NewImporter(e *Entity) *Importer {
	return &Importer{entity: e}
}

// Entity returns the entity the importer writes.
func (im *Importer) Entity() *Entity { return im.entity }

type batchRow struct {
	row  *Row
	cols []*BoundMapping
}

// Run imports every batch of the entity as one unit: rows share the lookup
// cache, and an existing record may be claimed by one row only.
// The returned error is reserved for store failures; row problems are
// recorded on the rows.
func (im *Importer) Run(ctx context.Context, ic *ImportContext, batches []*Batch) ([]*ImportResult, error) {
	e := im.entity

	var items []batchRow
	for _, b := range batches {
		cols := e.FilterByColumns(b.Headers)
		for _, row := range b.Rows {
			items = append(items, batchRow{row: row, cols: cols})
		}
	}

	for _, it := range items {
		if err := im.lookup(ctx, ic, it.row); err != nil {
			return nil, err
		}
	}

	for _, pass := range e.Passes() {
		// Updates run before creates within a pass.
		for _, existing := range []bool{true, false} {
			for _, it := range items {
				if it.row.HasErrors() || (it.row.instance != nil) != existing {
					continue
				}
				if err := im.process(ctx, ic, it.row, passColumns(it.cols, pass), pass); err != nil {
					return nil, err
				}
			}
		}
	}

	for _, it := range items {
		switch it.row.Status {
		case StatusUpdate:
			if it.row.ID == "" {
				it.row.ID = it.row.instance.Key()
			}
		case StatusUnchanged:
			it.row.Diff = nil
		}
	}

	results := make([]*ImportResult, 0, len(batches))
	for _, b := range batches {
		res := NewImportResult(e, b.Filename, b.Headers)
		res.Rows = b.Rows
		results = append(results, res)

		ic.Logger.Info("entity imported",
			"entity", e.Key,
			"file", b.Filename,
			"mode", ic.Mode.String(),
			"new", len(res.NewRows()),
			"updated", len(res.UpdatedRows()),
			"unchanged", len(res.UnchangedRows()),
			"errors", len(res.Errors()),
		)
	}
	return results, nil
}

func passColumns(cols []*BoundMapping, pass int) []*BoundMapping {
	var out []*BoundMapping
	for _, m := range cols {
		if m.Writable() && m.Pass == pass {
			out = append(out, m)
		}
	}
	return out
}

// lookup finds the existing record a row targets.
func (im *Importer) lookup(ctx context.Context, ic *ImportContext, row *Row) error {
	e := im.entity

	var (
		rec *schema.Record
		err error
	)
	if ic.Mode == ModeReplay {
		if row.ID == "" {
			return nil
		}
		rec, err = ic.Tx.Get(ctx, e.model.Name, row.ID)
		if errors.Is(err, store.ErrNotFound) {
			row.AddNonFieldError(fmt.Sprintf(msgMissingTarget, row.ID))
			return nil
		}
	} else {
		rec, err = ic.existing(e).Match(ctx, e.fieldData(row))
		if errors.Is(err, ErrMultipleMatches) {
			row.AddNonFieldError(msgMultipleMatches)
			return nil
		}
	}
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}

	if !ic.claim(rec) {
		row.AddNonFieldError(msgUpdatedTwice)
		return nil
	}
	row.instance = rec
	return nil
}

// mightHaveChanges compares submitted text with the record's text without
// parsing or resolving anything.
func mightHaveChanges(rec *schema.Record, cols []*BoundMapping, row *Row) bool {
	for _, m := range cols {
		submitted := NormalizeString(row.Data[m.Column])
		if m.IsOneToMany() {
			submitted = strings.Join(listItems(m, submitted), ListSeparator)
		}
		if submitted != columnString(m, rec) {
			return true
		}
	}
	return false
}

type columnError struct {
	column string
	msg    string
}

// process applies one pass of columns to a row.
func (im *Importer) process(ctx context.Context, ic *ImportContext, row *Row, passCols []*BoundMapping, pass int) error {
	e := im.entity

	var cols []*BoundMapping
	for _, m := range passCols {
		if row.Submitted(m.Column) {
			cols = append(cols, m)
		}
	}

	inst := row.instance
	if inst != nil && !mightHaveChanges(inst, cols, row) {
		// A later pass may still update the row; its diff needs the old
		// values of these columns.
		unchanged := make(map[string][]string, len(cols))
		for _, m := range cols {
			unchanged[m.Column] = []string{columnString(m, inst)}
		}
		mergeDiff(row, unchanged)
		row.promote(StatusUnchanged)
		return nil
	}

	var candidate *schema.Record
	if inst == nil {
		candidate = schema.NewRecord(e.model)
	} else {
		candidate = inst.Clone()
	}

	exclude := make(map[string]bool)
	for _, m := range e.mappings {
		if m.field != nil && m.Writable() && m.Pass > pass {
			exclude[m.Field] = true
		}
	}

	var (
		errs    []columnError
		changed bool
		diff    = make(map[string][]string, len(cols))
	)
	// Values that cannot initialize a new record are attached once it has
	// passed validation.
	deferred := make(map[string][]*schema.Record)
	// Columns resolved to records created in this run. Preview diffs leave
	// out their keys.
	batchCols := make(map[string]bool)

	for _, m := range cols {
		raw := row.Data[m.Column]
		old := ""
		if inst != nil {
			old = columnString(m, inst)
		}

		var value any
		switch m.Kind {
		case schema.KindScalar:
			v, err := schema.Parse(m.field, raw)
			if err != nil {
				errs = append(errs, columnError{m.Column, err.Error()})
				continue
			}
			candidate.Set(m.Field, v)
			value = v

		case schema.KindToOne:
			rec, inBatch, msgs, err := im.resolveOne(ctx, ic, m, raw, row.Resolved[m.Column])
			if err != nil {
				return err
			}
			if len(msgs) > 0 {
				for _, msg := range msgs {
					errs = append(errs, columnError{m.Column, msg})
				}
				continue
			}
			if inBatch {
				exclude[m.Field] = true
				batchCols[m.Column] = true
			}
			candidate.SetOne(m.Field, rec)
			if rec != nil {
				value = rec
			}

		case schema.KindToMany:
			recs, inBatch, msgs, err := im.resolveMany(ctx, ic, m, raw, row.Resolved[m.Column])
			if err != nil {
				return err
			}
			if len(msgs) > 0 {
				for _, msg := range msgs {
					errs = append(errs, columnError{m.Column, msg})
				}
				continue
			}
			if inBatch {
				exclude[m.Field] = true
				batchCols[m.Column] = true
			}
			if inst == nil && !m.ModelInit {
				exclude[m.Field] = true
				deferred[m.Field] = recs
			} else {
				candidate.SetMany(m.Field, recs)
			}
			if len(recs) > 0 {
				value = recs
			}
		}

		current := ToString(m, value)
		if current == old {
			diff[m.Column] = []string{old}
			continue
		}
		changed = true
		entry := []string{old, current}
		if key := resolvedKeys(value); key != "" && (ic.Mode.Commits() || !batchCols[m.Column]) {
			entry = append(entry, key)
		}
		diff[m.Column] = entry
	}

	if inst != nil && !row.created && (changed || len(errs) > 0) && e.CanUpdate != nil && !e.CanUpdate(inst) {
		row.AddNonFieldError(msgCannotUpdate)
		return nil
	}

	if len(errs) > 0 {
		for _, ce := range errs {
			row.AddError(ce.column, ce.msg)
		}
		return nil
	}

	if verrs := schema.FullValidate(candidate, exclude); len(verrs) > 0 {
		im.addValidationErrors(row, verrs)
		return nil
	}

	if !changed {
		mergeDiff(row, diff)
		row.promote(StatusUnchanged)
		return nil
	}

	// Every mode saves; the coordinator commits or rolls back.
	if inst != nil {
		inst.Assign(candidate)
		ok, err := im.save(ctx, ic, row, inst)
		if err != nil || !ok {
			return err
		}
		mergeDiff(row, diff)
		row.promote(StatusUpdate)
		return nil
	}

	for field, recs := range deferred {
		candidate.SetMany(field, recs)
	}
	ok, err := im.save(ctx, ic, row, candidate)
	if err != nil || !ok {
		return err
	}
	row.instance = candidate
	row.created = true
	mergeDiff(row, diff)
	row.promote(StatusNew)
	ic.NewObjects(e.model).Add(candidate)
	return nil
}

func mergeDiff(row *Row, diff map[string][]string) {
	if row.Diff == nil {
		row.Diff = make(map[string][]string, len(diff))
	}
	for k, v := range diff {
		row.Diff[k] = v
	}
}

// resolvedKeys returns the store keys behind a relationship value when
// every referenced record is saved.
func resolvedKeys(value any) string {
	switch v := value.(type) {
	case *schema.Record:
		return v.Key()
	case []*schema.Record:
		keys := ""
		for i, rec := range v {
			if !rec.Saved() {
				return ""
			}
			if i > 0 {
				keys += ","
			}
			keys += rec.Key()
		}
		return keys
	}
	return ""
}

// save persists rec. Constraint violations reported by the store become row
// errors and ok is false.
func (im *Importer) save(ctx context.Context, ic *ImportContext, row *Row, rec *schema.Record) (bool, error) {
	err := ic.Tx.Save(ctx, rec)
	if err == nil {
		return true, nil
	}
	var verrs schema.ValidationErrors
	if errors.As(err, &verrs) {
		im.addValidationErrors(row, verrs)
		return false, nil
	}
	return false, fmt.Errorf("save %s row %d: %w", im.entity.Key, row.RowNumber, err)
}

func (im *Importer) addValidationErrors(row *Row, verrs schema.ValidationErrors) {
	for _, ve := range verrs {
		if ve.Field == "" {
			row.AddNonFieldError(ve.Message)
			continue
		}
		if m, ok := im.entity.MappingForField(ve.Field); ok {
			row.AddError(m.Column, ve.Message)
			continue
		}
		row.AddNonFieldError(ve.Error())
	}
}

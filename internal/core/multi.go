package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/JonMunkholm/multiimport/internal/schema"
	"github.com/JonMunkholm/multiimport/internal/store"
	"github.com/JonMunkholm/multiimport/internal/tabular"
)

// ErrUnknownDataset is reported for datasets no entity claims.
var ErrUnknownDataset = errors.New("Columns should match those in the import template.")

const msgMissingID = "Updated item has no id."

// File is one uploaded file.
type File struct {
	Name string
	Data []byte
}

// NamedDataset pairs a dataset with the name it is reported under.
type NamedDataset struct {
	Filename string
	Dataset  *tabular.Dataset
}

// MultiImporter coordinates imports across every configured entity inside
// a single store transaction.
type MultiImporter struct {
	store    store.Store
	catalog  *schema.Catalog
	declared []*Entity
	ordered  []*Entity
	byKey    map[string]*Entity
	logger   *slog.Logger
}

// Option configures a MultiImporter.
type Option func(*MultiImporter)

// WithLogger sets the logger used for import summaries.
func WithLogger(l *slog.Logger) Option {
	return func(mi *MultiImporter) { mi.logger = l }
}

// NewMultiImporter binds every descriptor and fixes the import order.
// Unknown attributes, duplicate keys, shared id columns and dependency
// cycles are rejected here.
func NewMultiImporter(st store.Store, cat *schema.Catalog, descs []Descriptor, opts ...Option) (*MultiImporter, error) {
	mi := &MultiImporter{
		store:   st,
		catalog: cat,
		byKey:   make(map[string]*Entity, len(descs)),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(mi)
	}

	idColumns := make(map[string]string)
	for _, d := range descs {
		e, err := Bind(d, cat)
		if err != nil {
			return nil, err
		}
		if _, dup := mi.byKey[e.Key]; dup {
			return nil, fmt.Errorf("entity already registered: %s", e.Key)
		}
		if other, dup := idColumns[e.IDColumn]; dup {
			return nil, fmt.Errorf("id column %q is shared by entities %s and %s", e.IDColumn, other, e.Key)
		}
		idColumns[e.IDColumn] = e.Key
		mi.byKey[e.Key] = e
		mi.declared = append(mi.declared, e)
	}

	ordered, err := SortEntities(mi.declared)
	if err != nil {
		return nil, err
	}
	mi.ordered = ordered
	return mi, nil
}

// Entities returns entities in declaration order.
func (mi *MultiImporter) Entities() []*Entity {
	return append([]*Entity(nil), mi.declared...)
}

// ImportOrder returns entities in the order they are imported.
func (mi *MultiImporter) ImportOrder() []*Entity {
	return append([]*Entity(nil), mi.ordered...)
}

// Entity returns an entity by key.
func (mi *MultiImporter) Entity(key string) (*Entity, bool) {
	e, ok := mi.byKey[key]
	return e, ok
}

// IdentifyDataset picks the entity whose id column appears in headers.
// When several qualify, the one matching the most columns wins.
func (mi *MultiImporter) IdentifyDataset(headers []string) (*Entity, error) {
	present := make(map[string]bool, len(headers))
	for _, h := range headers {
		present[h] = true
	}

	var (
		best      *Entity
		bestScore int
	)
	for _, e := range mi.declared {
		if !present[e.IDColumn] {
			continue
		}
		score := len(e.FilterByColumns(headers))
		if best == nil || score > bestScore {
			best, bestScore = e, score
		}
	}
	if best == nil {
		return nil, ErrUnknownDataset
	}
	return best, nil
}

// ImportFiles reads, routes and imports uploaded files. File-level problems
// are recorded on the result and make it invalid; the returned error is
// reserved for store failures.
func (mi *MultiImporter) ImportFiles(ctx context.Context, files []File, mode Mode) (*MultiImportResult, error) {
	res := NewMultiImportResult()
	data := make(map[string][]NamedDataset)

	for _, f := range files {
		sets, _, err := tabular.Load(f.Data)
		if err != nil {
			res.AddError(f.Name, fileErrorMessage(err))
			continue
		}
		for _, ds := range sets {
			name := f.Name
			if len(sets) > 1 {
				name = fmt.Sprintf("%s [%s]", f.Name, ds.Title)
			}
			e, err := mi.IdentifyDataset(ds.Headers)
			if err != nil {
				res.AddError(name, err.Error())
				continue
			}
			data[e.Key] = append(data[e.Key], NamedDataset{Filename: name, Dataset: ds})
		}
	}

	return mi.run(ctx, res, mi.batches(data), mode)
}

// ImportData imports datasets already routed to entity keys.
func (mi *MultiImporter) ImportData(ctx context.Context, data map[string][]NamedDataset, mode Mode) (*MultiImportResult, error) {
	for key := range data {
		if _, ok := mi.byKey[key]; !ok {
			return nil, fmt.Errorf("unknown entity %q", key)
		}
	}
	return mi.run(ctx, NewMultiImportResult(), mi.batches(data), mode)
}

func (mi *MultiImporter) batches(data map[string][]NamedDataset) map[string][]*Batch {
	out := make(map[string][]*Batch, len(data))
	for key, sets := range data {
		for _, nd := range sets {
			out[key] = append(out[key], &Batch{
				Filename: nd.Filename,
				Headers:  nd.Dataset.Headers,
				Rows:     ReadRows(nd.Dataset),
			})
		}
	}
	return out
}

// Replay applies diffs produced by an earlier preview.
func (mi *MultiImporter) Replay(ctx context.Context, diffs []Diff) (*MultiImportResult, error) {
	res := NewMultiImportResult()
	batches := make(map[string][]*Batch)

	for i, d := range diffs {
		name := d.Filename
		if name == "" {
			name = fmt.Sprintf("diff %d", i+1)
		}
		e, ok := mi.byKey[d.Model]
		if !ok {
			res.AddError(name, fmt.Sprintf("Unknown entity %q.", d.Model))
			continue
		}
		b := replayBatch(d)
		b.Filename = name
		batches[e.Key] = append(batches[e.Key], b)
	}

	return mi.run(ctx, res, batches, ModeReplay)
}

// replayBatch rebuilds rows from a diff. The newest value of each column is
// submitted; unchanged columns of updated rows are left out.
func replayBatch(d Diff) *Batch {
	b := &Batch{Headers: d.ColumnNames}
	for _, obj := range d.NewObjects {
		b.Rows = append(b.Rows, replayRow(d.ColumnNames, obj, false))
	}
	for _, obj := range d.UpdatedObjects {
		b.Rows = append(b.Rows, replayRow(d.ColumnNames, obj, true))
	}
	sort.SliceStable(b.Rows, func(i, j int) bool {
		return b.Rows[i].RowNumber < b.Rows[j].RowNumber
	})
	return b
}

func replayRow(columns []string, obj DiffObject, update bool) *Row {
	row := NewRow(obj.RowNumber, obj.LineNumber, make(map[string]string))
	row.Resolved = make(map[string]string)

	for i, col := range columns {
		if i >= len(obj.Attributes) {
			break
		}
		entry := obj.Attributes[i]
		switch {
		case len(entry) == 0:
			continue
		case len(entry) == 1:
			if update {
				continue
			}
			row.Data[col] = entry[0]
		case len(entry) == 2:
			row.Data[col] = entry[1]
		default:
			row.Data[col] = entry[1]
			row.Resolved[col] = entry[2]
		}
	}

	if update {
		row.ID = obj.ID
		if obj.ID == "" {
			row.AddNonFieldError(msgMissingID)
		}
	}
	return row
}

// run imports batches in dependency order inside one transaction. Nothing
// is committed in preview mode or when any file or row has errors.
func (mi *MultiImporter) run(ctx context.Context, res *MultiImportResult, batches map[string][]*Batch, mode Mode) (*MultiImportResult, error) {
	tx, err := mi.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback(ctx)

	ic := NewImportContext(mode, tx, mi.logger)

	for _, e := range mi.ordered {
		bs := batches[e.Key]
		if len(bs) == 0 {
			continue
		}
		results, err := NewImporter(e).Run(ctx, ic, bs)
		if err != nil {
			return nil, fmt.Errorf("import %s: %w", e.Key, err)
		}
		for i, r := range results {
			res.AddResult(bs[i].Filename, r)
		}
	}

	if !mode.Commits() || !res.Valid() {
		mi.logger.Info("import rolled back",
			"mode", mode.String(),
			"valid", res.Valid(),
			"changes", res.NumChanges(),
		)
		return res, nil
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit import: %w", err)
	}
	mi.logger.Info("import committed", "mode", mode.String(), "changes", res.NumChanges())
	return res, nil
}

func fileErrorMessage(err error) string {
	for _, known := range []error{tabular.ErrEncoding, tabular.ErrInvalidFileType, tabular.ErrEmptyFile} {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return tabular.ErrEmptyFile.Error()
}

package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/JonMunkholm/multiimport/internal/tabular"
)

// InvalidKeysError is returned when an export names unknown entities.
type InvalidKeysError struct {
	Keys []string
}

func (e *InvalidKeysError) Error() string {
	return fmt.Sprintf("Invalid keys %s for exporting", strings.Join(e.Keys, ", "))
}

// ExportOptions selects what to export.
type ExportOptions struct {
	Keys     []string // Entity keys; empty exports every entity
	Template bool     // Headers only
}

// ExportResult holds one dataset per exported entity.
type ExportResult struct {
	Datasets []*tabular.Dataset
}

// Export renders stored records of the selected entities. Cells are escaped
// so spreadsheets do not evaluate them.
func (mi *MultiImporter) Export(ctx context.Context, opts ExportOptions) (*ExportResult, error) {
	keys := opts.Keys
	if len(keys) == 0 {
		for _, e := range mi.declared {
			keys = append(keys, e.Key)
		}
	}

	var invalid []string
	for _, k := range keys {
		if _, ok := mi.byKey[k]; !ok {
			invalid = append(invalid, k)
		}
	}
	if len(invalid) > 0 {
		return nil, &InvalidKeysError{Keys: invalid}
	}

	res := &ExportResult{}
	if opts.Template {
		for _, k := range keys {
			e := mi.byKey[k]
			res.Datasets = append(res.Datasets, tabular.NewDataset(e.Key, e.Columns()))
		}
		return res, nil
	}

	tx, err := mi.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin export: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, k := range keys {
		e := mi.byKey[k]
		ds := tabular.NewDataset(e.Key, e.Columns())

		recs, err := tx.All(ctx, e.model.Name)
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", e.Key, err)
		}
		for _, rec := range recs {
			row := make([]any, len(e.mappings))
			for i, m := range e.mappings {
				row[i] = ExcelEscape(columnString(m, rec))
			}
			ds.Rows = append(ds.Rows, row)
		}
		res.Datasets = append(res.Datasets, ds)
	}
	return res, nil
}

// Package writes every dataset in format f. A single dataset becomes
// {key}.{format}; several are zipped into {zipName}.zip.
func (r *ExportResult) Package(f tabular.Format, zipName string) (tabular.File, error) {
	files := make([]tabular.File, 0, len(r.Datasets))
	for _, ds := range r.Datasets {
		file, err := tabular.Encode(f, ds)
		if err != nil {
			return tabular.File{}, err
		}
		files = append(files, file)
	}
	if len(files) == 1 {
		return files[0], nil
	}
	return tabular.Zip(zipName, files)
}

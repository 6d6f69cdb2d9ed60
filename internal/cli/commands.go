package cli

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/multiimport/internal/core"
)

// errInvalidImport makes the process exit non-zero after the result has
// been printed.
var errInvalidImport = errors.New("import has errors, nothing was saved")

func newEntitiesCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "entities",
		Short: "List configured entities in import order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, closeFn, err := a.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			infos := svc.Entities()
			if a.settings.Output == OutputJSON {
				return writeJSON(out(cmd), infos)
			}
			renderEntities(out(cmd), infos)
			return nil
		},
	}
}

func newImportCommand(a *app) *cobra.Command {
	var (
		commit  bool
		diffOut string
	)

	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Preview or commit an import of one or more files",
		Long: `Import reads every file, identifies its entity from the header row and
imports all of them together. Without --commit nothing is saved.

Use --diff-out to keep the previewed changes; they can be committed later
with "multiimport replay".`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := readFiles(args)
			if err != nil {
				return err
			}

			svc, closeFn, err := a.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := svc.Import(cmd.Context(), files, !commit)
			if err != nil {
				return fmt.Errorf("import: %w", err)
			}

			if diffOut != "" && res.Valid() {
				if err := writeDiffs(diffOut, res.Diffs()); err != nil {
					return err
				}
			}
			return a.report(cmd, res)
		},
	}

	cmd.Flags().BoolVar(&commit, "commit", false, "Save the changes (default is preview only)")
	cmd.Flags().StringVar(&diffOut, "diff-out", "", "Write the previewed changes as JSON to this file")
	return cmd
}

func newReplayCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "replay DIFF_FILE",
		Short: "Commit changes saved by import --diff-out",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			diffs, err := core.DecodeDiffs(f)
			f.Close()
			if err != nil {
				return err
			}

			svc, closeFn, err := a.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			res, err := svc.Replay(cmd.Context(), diffs)
			if err != nil {
				return fmt.Errorf("replay: %w", err)
			}
			return a.report(cmd, res)
		},
	}
}

func newExportCommand(a *app) *cobra.Command {
	var (
		keys     []string
		template bool
		outPath  string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export stored records or empty import templates",
		Long: `Export writes one file per entity. Several entities are bundled into a
zip archive.

Examples:
  multiimport export --keys person --format xlsx
  multiimport export --template --out templates/`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, closeFn, err := a.openService(cmd.Context())
			if err != nil {
				return err
			}
			defer closeFn()

			file, err := svc.Export(cmd.Context(), core.ExportOptions{Keys: keys, Template: template}, "")
			if err != nil {
				return err
			}

			if outPath == "-" {
				_, err = out(cmd).Write(file.Data)
				return err
			}
			path := outPath
			if path == "" || strings.HasSuffix(path, string(os.PathSeparator)) {
				if path != "" {
					if err := os.MkdirAll(path, 0o755); err != nil {
						return err
					}
				}
				path = filepath.Join(path, file.Name)
			}
			if err := os.WriteFile(path, file.Data, 0o644); err != nil {
				return fmt.Errorf("write export: %w", err)
			}
			fmt.Fprintf(out(cmd), "Wrote %s (%d bytes)\n", path, len(file.Data))
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&keys, "keys", "k", nil, "Entity keys to export (default: all)")
	cmd.Flags().BoolVar(&template, "template", false, "Write headers only")
	cmd.Flags().StringVar(&outPath, "out", "", `Output file or directory ending in "/", "-" for stdout`)
	return cmd
}

// report prints res and turns an invalid result into an error.
func (a *app) report(cmd *cobra.Command, res *core.MultiImportResult) error {
	if a.settings.Output == OutputJSON {
		if err := writeJSON(out(cmd), res); err != nil {
			return err
		}
	} else {
		renderResult(out(cmd), res)
	}
	if !res.Valid() {
		return errInvalidImport
	}
	return nil
}

func readFiles(paths []string) ([]core.File, error) {
	files := make([]core.File, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		files = append(files, core.File{Name: filepath.Base(p), Data: data})
	}
	return files, nil
}

func writeDiffs(path string, diffs []core.Diff) error {
	var buf bytes.Buffer
	if err := writeJSON(&buf, diffs); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write diffs: %w", err)
	}
	return nil
}

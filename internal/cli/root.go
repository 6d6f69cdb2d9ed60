// Package cli provides the multiimport command-line interface.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/multiimport/internal/catalog"
	"github.com/JonMunkholm/multiimport/internal/core"
	"github.com/JonMunkholm/multiimport/internal/logging"
	"github.com/JonMunkholm/multiimport/internal/store"
)

// Version is set at build time.
var Version = "dev"

// app carries state shared by subcommands for one invocation.
type app struct {
	cfgFile  string
	settings *Settings
	logger   *slog.Logger
}

// NewRootCmd creates the root command.
func NewRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:   "multiimport",
		Short: "Import and export related records as CSV, JSON, YAML or XLSX",
		Long: `multiimport reads tabular files, works out which configured entity each
one belongs to, and imports them together in dependency order inside a
single transaction. Nothing is saved unless every row of every file is
valid.

Entities and models are declared in a catalog file (default: catalog.yaml).`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			s, err := LoadSettings(a.cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}
			a.settings = s

			level := s.LogLevel
			if s.Verbose {
				level = "debug"
			}
			a.logger = logging.Setup(cmd.ErrOrStderr(), level, "text")

			if s.Verbose && s.ConfigFile != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "Using config file: %s\n", s.ConfigFile)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default: ./multiimport.yaml)")
	flags.String("catalog", "", "Path to the entity catalog (default: catalog.yaml)")
	flags.String("driver", "", "Record store: postgres, sqlite or memory")
	flags.String("database-url", "", "PostgreSQL connection string")
	flags.String("sqlite-path", "", "SQLite database file")
	flags.StringP("output", "o", "", "Output mode (table|json)")
	flags.String("format", "", "Default file format for exports and templates")
	flags.String("log-level", "", "Log level (debug|info|warn|error)")
	flags.BoolP("verbose", "v", false, "Verbose output")

	_ = rootCmd.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{OutputTable, OutputJSON}, cobra.ShellCompDirectiveNoFileComp
	})
	_ = rootCmd.RegisterFlagCompletionFunc("driver", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"postgres", "sqlite", "memory"}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(newEntitiesCommand(a))
	rootCmd.AddCommand(newImportCommand(a))
	rootCmd.AddCommand(newReplayCommand(a))
	rootCmd.AddCommand(newExportCommand(a))

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	rootCmd := NewRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}

// openService loads the catalog, opens the store and binds the importer.
// The returned close func releases the store.
func (a *app) openService(ctx context.Context) (*core.Service, func(), error) {
	cat, descs, err := catalog.LoadDescriptors(a.settings.Catalog)
	if err != nil {
		return nil, nil, err
	}

	st, err := store.Open(ctx, a.settings.Database(), cat)
	if err != nil {
		return nil, nil, err
	}

	mi, err := core.NewMultiImporter(st, cat, descs, core.WithLogger(a.logger))
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	svc := core.NewService(mi, core.ServiceConfig{
		MaxConcurrent: 1,
		DefaultFormat: a.settings.Format,
	})
	closeFn := func() {
		if err := st.Close(); err != nil {
			a.logger.Warn("close store", "error", err)
		}
	}
	return svc, closeFn, nil
}

// out returns the writer for command results.
func out(cmd *cobra.Command) io.Writer {
	return cmd.OutOrStdout()
}

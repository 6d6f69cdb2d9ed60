package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JonMunkholm/multiimport/internal/logging"
	"github.com/JonMunkholm/multiimport/internal/tabular"
)

var (
	// ErrNoFiles is returned when an import carries no files.
	ErrNoFiles = errors.New("no file provided")

	// ErrFileTooLarge is returned when a file exceeds the configured limit.
	ErrFileTooLarge = errors.New("file too large")

	// ErrUnknownFormat is returned for export formats that do not exist.
	ErrUnknownFormat = errors.New("unknown format")
)

// Recorder receives the outcome of every operation. The metrics package
// provides the Prometheus implementation.
type Recorder interface {
	ImportFinished(mode Mode, res *MultiImportResult, elapsed time.Duration)
	ImportFailed(mode Mode)
	ExportFinished(format string, datasets int, elapsed time.Duration)
	LimiterRejected()
}

type nopRecorder struct{}

func (nopRecorder) ImportFinished(Mode, *MultiImportResult, time.Duration) {}
func (nopRecorder) ImportFailed(Mode)                                      {}
func (nopRecorder) ExportFinished(string, int, time.Duration)              {}
func (nopRecorder) LimiterRejected()                                       {}

// ServiceConfig holds the limits applied around the importer.
type ServiceConfig struct {
	MaxFileSize   int64
	MaxConcurrent int
	MaxWait       time.Duration
	Timeout       time.Duration
	DefaultFormat string
	ZipName       string
}

// Service is the entry point used by the web and CLI frontends.
type Service struct {
	importer *MultiImporter
	limiter  *ImportLimiter
	recorder Recorder
	cfg      ServiceConfig
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithRecorder sets the outcome recorder.
func WithRecorder(r Recorder) ServiceOption {
	return func(s *Service) { s.recorder = r }
}

// NewService wraps mi with concurrency and size limits.
func NewService(mi *MultiImporter, cfg ServiceConfig, opts ...ServiceOption) *Service {
	if cfg.DefaultFormat == "" {
		cfg.DefaultFormat = tabular.CSV.Key()
	}
	if cfg.ZipName == "" {
		cfg.ZipName = "export"
	}
	s := &Service{
		importer: mi,
		limiter:  NewImportLimiter(cfg.MaxConcurrent, cfg.MaxWait),
		recorder: nopRecorder{},
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// EntityInfo describes a configured entity.
type EntityInfo struct {
	Key        string   `json:"key"`
	Model      string   `json:"model"`
	IDColumn   string   `json:"id_column"`
	Columns    []string `json:"columns"`
	Restricted bool     `json:"update_restricted"` // Some existing records cannot be updated
	DependsOn  []string `json:"depends_on,omitempty"`
}

// Entities lists entities in import order.
func (s *Service) Entities() []EntityInfo {
	order := s.importer.ImportOrder()
	infos := make([]EntityInfo, len(order))
	for i, e := range order {
		infos[i] = EntityInfo{
			Key:        e.Key,
			Model:      e.model.Name,
			IDColumn:   e.IDColumn,
			Columns:    e.Columns(),
			Restricted: e.CanUpdate != nil,
			DependsOn:  e.Dependencies(),
		}
	}
	return infos
}

// Limiter exposes the import limiter for status reporting and shutdown.
func (s *Service) Limiter() *ImportLimiter { return s.limiter }

// Import previews (dryRun) or commits uploaded files.
func (s *Service) Import(ctx context.Context, files []File, dryRun bool) (*MultiImportResult, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	if s.cfg.MaxFileSize > 0 {
		for _, f := range files {
			if int64(len(f.Data)) > s.cfg.MaxFileSize {
				return nil, fmt.Errorf("%w: %s", ErrFileTooLarge, f.Name)
			}
		}
	}

	mode := ModeCommit
	if dryRun {
		mode = ModePreview
	}
	return s.run(ctx, mode, func(ctx context.Context) (*MultiImportResult, error) {
		return s.importer.ImportFiles(ctx, files, mode)
	})
}

// Replay commits diffs produced by an earlier preview.
func (s *Service) Replay(ctx context.Context, diffs []Diff) (*MultiImportResult, error) {
	return s.run(ctx, ModeReplay, func(ctx context.Context) (*MultiImportResult, error) {
		return s.importer.Replay(ctx, diffs)
	})
}

func (s *Service) run(ctx context.Context, mode Mode, fn func(context.Context) (*MultiImportResult, error)) (*MultiImportResult, error) {
	logger := logging.WithFields(ctx,
		"mode", mode.String(),
		"ip", GetIPAddressFromContext(ctx),
		"user_agent", GetUserAgentFromContext(ctx),
	)

	if err := s.limiter.Acquire(ctx); err != nil {
		if errors.Is(err, ErrTooManyImports) {
			s.recorder.LimiterRejected()
		}
		logger.Warn("import slot unavailable", "error", err)
		return nil, err
	}
	defer s.limiter.Release()

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := fn(ctx)
	elapsed := time.Since(start)
	if err != nil {
		s.recorder.ImportFailed(mode)
		logger.Error("import failed", "error", err, "duration", elapsed)
		return nil, err
	}

	s.recorder.ImportFinished(mode, res, elapsed)
	logger.Info("import finished",
		"valid", res.Valid(),
		"changes", res.NumChanges(),
		"files", len(res.Files),
		"file_errors", len(res.Errors),
		"duration", elapsed,
	)
	return res, nil
}

// Export renders the selected entities in the named format. An empty
// format uses the configured default.
func (s *Service) Export(ctx context.Context, opts ExportOptions, format string) (tabular.File, error) {
	if format == "" {
		format = s.cfg.DefaultFormat
	}
	f, ok := tabular.ByKey(format)
	if !ok {
		return tabular.File{}, fmt.Errorf("%w %q", ErrUnknownFormat, format)
	}

	start := time.Now()
	res, err := s.importer.Export(ctx, opts)
	if err != nil {
		return tabular.File{}, err
	}
	file, err := res.Package(f, s.cfg.ZipName)
	if err != nil {
		return tabular.File{}, fmt.Errorf("package export: %w", err)
	}

	elapsed := time.Since(start)
	s.recorder.ExportFinished(f.Key(), len(res.Datasets), elapsed)
	logging.FromContext(ctx).Info("export finished",
		"format", f.Key(),
		"datasets", len(res.Datasets),
		"template", opts.Template,
		"file", file.Name,
	)
	return file, nil
}

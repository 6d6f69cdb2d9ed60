package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/multiimport/internal/catalog"
	"github.com/JonMunkholm/multiimport/internal/config"
	"github.com/JonMunkholm/multiimport/internal/core"
	"github.com/JonMunkholm/multiimport/internal/logging"
	"github.com/JonMunkholm/multiimport/internal/metrics"
	"github.com/JonMunkholm/multiimport/internal/store"
	"github.com/JonMunkholm/multiimport/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("configuration loaded", "config", cfg.String())

	cat, descs, err := catalog.LoadDescriptors(cfg.Catalog.Path)
	if err != nil {
		logger.Error("failed to load catalog", "path", cfg.Catalog.Path, "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	st, err := store.Open(ctx, cfg.Database, cat)
	if err != nil {
		logger.Error("failed to open store", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	importer, err := core.NewMultiImporter(st, cat, descs, core.WithLogger(logger))
	if err != nil {
		logger.Error("invalid entity configuration", "error", err)
		os.Exit(1)
	}

	recorder := metrics.New()
	service := core.NewService(importer, core.ServiceConfig{
		MaxFileSize:   cfg.Import.MaxFileSize,
		MaxConcurrent: cfg.Import.MaxConcurrent,
		MaxWait:       cfg.Import.MaxWaitTime,
		Timeout:       cfg.Import.Timeout,
		DefaultFormat: cfg.Import.ExportFormat,
		ZipName:       cfg.Import.ZipName,
	}, core.WithRecorder(recorder))
	recorder.WatchLimiter(service.Limiter())

	for _, e := range service.Entities() {
		logger.Debug("entity registered", "key", e.Key, "model", e.Model, "depends_on", e.DependsOn)
	}
	logger.Info("entities registered", "count", len(descs))

	server := web.NewServer(service, cfg, web.WithMetrics(recorder.Handler()))

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		logger.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if status := service.Limiter().Status(); status.Active > 0 {
			logger.Info("waiting for imports to complete", "active", status.Active)
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()

	logger.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(); err != nil {
		logger.Error("server stopped", "error", err)
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/JonMunkholm/manifestsync/internal/config"
	"github.com/JonMunkholm/manifestsync/internal/core"
	"github.com/JonMunkholm/manifestsync/internal/logging"
	"github.com/JonMunkholm/manifestsync/internal/store"
	"github.com/JonMunkholm/manifestsync/internal/store/postgres"
	"github.com/JonMunkholm/manifestsync/internal/store/sqlite"
	"github.com/JonMunkholm/manifestsync/internal/web"
	"github.com/joho/godotenv"
)

func main() {
	ingestDir := flag.String("ingest", "", "ingest every manifest in `dir` and exit instead of serving HTTP")
	flag.Parse()

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

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Debug("configuration loaded", "config", cfg.String())

	ctx := context.Background()
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		slog.Error("failed to open storage", "backend", cfg.Storage.Backend, "error", err)
		os.Exit(1)
	}
	defer backend.Close()

	service := core.NewService(backend, core.Options{
		MaxFileSize:   cfg.Upload.MaxFileSize,
		WriterWait:    cfg.Upload.MaxWaitTime,
		IngestTimeout: cfg.Upload.Timeout,
		InboxDir:      cfg.Upload.InboxDir,
	})

	if *ingestDir != "" {
		if err := runIngest(ctx, service, *ingestDir); err != nil {
			slog.Error("inbox ingestion failed", "dir", *ingestDir, "error", err)
			backend.Close()
			os.Exit(1)
		}
		return
	}

	server := web.NewServer(service, cfg)

	idle := make(chan struct{})
	go func() {
		defer close(idle)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Let an in-flight ingestion commit before the listener goes away.
		if status := service.WriterStatus(); status.Active > 0 {
			slog.Info("waiting for ingestion to complete", "active", status.Active)
			if err := service.WaitForWriters(shutdownCtx); err != nil {
				slog.Warn("ingestion did not complete in time", "error", err)
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	slog.Info("server starting",
		"addr", cfg.Server.Addr(),
		"backend", cfg.Storage.Backend,
		"rate_limit_enabled", cfg.Rate.Enabled,
	)
	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server error", "error", err)
		backend.Close()
		os.Exit(1)
	}
	<-idle
	slog.Info("server stopped")
}

// openBackend opens the storage backend named by STORAGE_BACKEND and applies
// its migrations.
func openBackend(ctx context.Context, cfg *config.Config) (store.Backend, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	switch cfg.Storage.Backend {
	case config.BackendPostgres:
		pg, err := postgres.Open(ctx, postgres.Options{
			URL:             cfg.Database.URL,
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
			MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
		})
		if err != nil {
			return nil, err
		}
		slog.Info("connected to postgres")
		return pg, nil
	case config.BackendSQLite:
		lite, err := sqlite.Open(ctx, cfg.SQLite.Path)
		if err != nil {
			return nil, err
		}
		slog.Info("opened sqlite database", "path", cfg.SQLite.Path)
		return lite, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// runIngest processes an inbox directory once and logs each file's outcome.
func runIngest(ctx context.Context, service *core.Service, dir string) error {
	res, err := service.IngestDir(ctx, dir)
	if err != nil {
		return err
	}
	for _, f := range res.Files {
		if f.Error != "" {
			slog.Warn("file failed", "file", f.File, "error", f.Error)
			continue
		}
		slog.Info("file ingested",
			"file", f.File,
			"upload_id", f.Result.Upload.ID,
			"written", f.Result.Written,
			"added", f.Result.Added,
			"updated", f.Result.Updated,
		)
	}
	slog.Info("inbox processed", "dir", res.Dir, "files", len(res.Files), "failed", res.Failed, "duration", res.Duration)
	if res.Failed > 0 {
		return fmt.Errorf("%d of %d files failed", res.Failed, len(res.Files))
	}
	return nil
}

// Package application wires configuration into the running pieces shared by
// the HTTP server, the queue worker and the CLI.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/JonMunkholm/crmport/internal/blob"
	"github.com/JonMunkholm/crmport/internal/config"
	"github.com/JonMunkholm/crmport/internal/core"
	"github.com/JonMunkholm/crmport/internal/core/entities"
	"github.com/JonMunkholm/crmport/internal/queue"
	"github.com/JonMunkholm/crmport/internal/store"
)

// App holds the opened store and the services built on it.
type App struct {
	Config  *config.Config
	Store   store.Backend
	Service *core.Service
	Archive *blob.ArchiveStore // nil when archiving is not configured
}

// New loads entity overrides, opens the store, creates missing tables and
// builds the import service.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if path := cfg.Import.EntityConfigFile; path != "" {
		if err := entities.LoadFile(path); err != nil {
			return nil, fmt.Errorf("load entity config %s: %w", path, err)
		}
		slog.Info("entity config loaded", "path", path)
	}
	slog.Info("entities registered", "count", core.EntityCount(), "names", core.Names())

	backend, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.URL, store.PoolOptions{
		MaxConns:        cfg.Database.MaxConns,
		MinConns:        cfg.Database.MinConns,
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	if cfg.Database.AutoMigrate {
		if err := backend.EnsureSchema(ctx, core.All()); err != nil {
			backend.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
	}
	slog.Info("store ready", "driver", cfg.Database.Driver)

	app := &App{
		Config: cfg,
		Store:  backend,
		Service: core.NewService(backend, core.ServiceConfig{
			MaxConcurrent: cfg.Import.MaxConcurrent,
			MaxWait:       cfg.Import.MaxWaitTime,
			Timeout:       cfg.Import.Timeout,
			Retention:     cfg.Import.Retention,
			Throttle:      core.Throttle{Every: cfg.Import.ThrottleEvery, Delay: cfg.Import.ThrottleDelay},
			MaxFileSize:   cfg.Import.MaxFileSize,
			Logger:        slog.Default(),
		}),
	}

	archive, err := blob.New(blob.Config{
		Endpoint:   cfg.Export.Endpoint,
		AccessKey:  cfg.Export.AccessKey,
		SecretKey:  cfg.Export.SecretKey,
		Bucket:     cfg.Export.Bucket,
		Prefix:     cfg.Export.Prefix,
		UseSSL:     cfg.Export.UseSSL,
		LinkExpiry: cfg.Export.LinkExpiry,
	})
	switch {
	case errors.Is(err, blob.ErrNotConfigured):
		slog.Info("export archive disabled")
	case err != nil:
		backend.Close()
		return nil, err
	default:
		if err := archive.EnsureBucket(ctx); err != nil {
			slog.Warn("export archive bucket check failed", "bucket", cfg.Export.Bucket, "error", err)
		}
		app.Archive = archive
	}

	return app, nil
}

// Close releases the store.
func (a *App) Close() error {
	return a.Store.Close()
}

// DialQueue connects to the configured broker.
func (a *App) DialQueue() (*queue.Conn, error) {
	q := a.Config.Queue
	return queue.Dial(queue.Config{
		URL:         q.URL,
		ImportQueue: q.ImportQueue,
		ResultQueue: q.ResultQueue,
		Prefetch:    q.Prefetch,
	})
}

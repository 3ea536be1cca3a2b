package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/JonMunkholm/bulkcsv/internal/config"
	"github.com/JonMunkholm/bulkcsv/internal/core"
	_ "github.com/JonMunkholm/bulkcsv/internal/core/tables" // Register all record types
	"github.com/JonMunkholm/bulkcsv/internal/logging"
	"github.com/JonMunkholm/bulkcsv/internal/store"
	"github.com/JonMunkholm/bulkcsv/internal/store/migrations"
	"github.com/JonMunkholm/bulkcsv/internal/web"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded", "config", cfg.String())

	ctx := context.Background()
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Log which database we connected to
	if u, err := url.Parse(cfg.Database.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	} else {
		slog.Info("connected to database")
	}

	if cfg.Database.AutoMigrate {
		if err := migrations.RunMigrationsUp(ctx, pool); err != nil {
			slog.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
	}

	service := core.NewService(store.New(pool), core.DefaultRegistry(), core.ServiceConfig{
		MaxConcurrent:      cfg.Import.MaxConcurrent,
		MaxWait:            cfg.Import.MaxWaitTime,
		JobTimeout:         cfg.Import.Timeout,
		ResultRetention:    cfg.Import.ResultRetention,
		MaxConflictRetries: cfg.Import.MaxConflictRetries,
		RetryDelay:         cfg.Import.RetryDelay,
	}, logger)
	defer service.Close()

	types := service.Types()
	slog.Info("record types registered", "count", len(types))
	for _, desc := range types {
		slog.Debug("record type", "name", desc.Name, "table", desc.Table, "key", desc.KeyField)
	}

	server := web.NewServer(service, cfg)

	// Graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Stop accepting requests, then let running imports finish
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}

		if status := service.LimiterStatus(); status.Active > 0 {
			slog.Info("waiting for imports to complete", "active", status.Active)
			if err := service.WaitForImports(shutdownCtx); err != nil {
				slog.Warn("imports did not complete in time", "error", err)
			} else {
				slog.Info("all imports completed")
			}
		}
	}()

	if err := server.Start(cfg.Server.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
	<-done
}

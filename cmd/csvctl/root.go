package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/bulkcsv/internal/config"
	"github.com/JonMunkholm/bulkcsv/internal/core"
	_ "github.com/JonMunkholm/bulkcsv/internal/core/tables" // Register all record types
	"github.com/JonMunkholm/bulkcsv/internal/logging"
	"github.com/JonMunkholm/bulkcsv/internal/store"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:   "csvctl",
	Short: "Bulk CSV import and export",
	Long:  `Import and export record types as delimited text using the same engine as the server.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A missing .env is fine; the environment may already be set.
		_ = godotenv.Load()
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", ".", "Directory searched for "+config.FileName+".{yaml,toml,json}")
	rootCmd.AddCommand(importCmd(), exportCmd(), migrateCmd(), typesCmd())
}

// env is the configuration, logger and database shared by the commands
// that touch the store.
type env struct {
	cfg     *config.Config
	logger  *slog.Logger
	pool    *pgxpool.Pool
	service *core.Service
}

// openEnv loads configuration and connects. Logs go to stderr so stdout
// stays free for exported data and results.
func openEnv(ctx context.Context) (*env, error) {
	cfg, err := config.LoadFrom(configDir)
	if err != nil {
		return nil, err
	}
	logger := logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	service := core.NewService(store.New(pool), core.DefaultRegistry(), core.ServiceConfig{
		MaxConcurrent:      cfg.Import.MaxConcurrent,
		MaxWait:            cfg.Import.MaxWaitTime,
		JobTimeout:         cfg.Import.Timeout,
		ResultRetention:    cfg.Import.ResultRetention,
		MaxConflictRetries: cfg.Import.MaxConflictRetries,
		RetryDelay:         cfg.Import.RetryDelay,
	}, logger)

	return &env{cfg: cfg, logger: logger, pool: pool, service: service}, nil
}

func (e *env) Close() {
	e.service.Close()
	e.pool.Close()
}

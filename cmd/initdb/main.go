// Package main creates the record table and its indexes in Postgres.
// Run it once before the first scrape against a fresh database.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/solovyov/newswire/internal/config"
	"github.com/solovyov/newswire/internal/logging"
	storagepg "github.com/solovyov/newswire/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	timeout := flag.Duration("timeout", 30*time.Second, "Schema creation deadline")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if cfg.Storage.Backend != "postgres" || cfg.Storage.DSN == "" {
		fmt.Fprintln(os.Stderr, "storage.backend must be postgres with storage.dsn set")
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := storagepg.NewRecordStore(ctx, storagepg.Config{
		DSN:      cfg.Storage.DSN,
		Table:    cfg.Storage.Table,
		MaxConns: 2,
	})
	if err != nil {
		logger.Fatal("connect failed", zap.Error(err))
	}
	defer store.Close()

	if err := store.CreateSchema(ctx); err != nil {
		logger.Fatal("schema creation failed", zap.Error(err))
	}
	logger.Info("schema ready", zap.String("table", cfg.Storage.Table))
}

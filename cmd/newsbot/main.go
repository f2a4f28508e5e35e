// Package main hosts the Telegram bot entrypoint. The bot is read-only:
// it serves records the scraper stored, with category and date filters
// and inline pagination.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/solovyov/newswire/internal/bot"
	"github.com/solovyov/newswire/internal/config"
	"github.com/solovyov/newswire/internal/logging"
	"github.com/solovyov/newswire/internal/news"
	storagemem "github.com/solovyov/newswire/internal/storage/memory"
	storagepg "github.com/solovyov/newswire/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if cfg.Bot.Token == "" {
		fmt.Fprintln(os.Stderr, "bot.token must be set")
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
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		logger.Fatal("storage init failed", zap.Error(err))
	}
	defer closeStore()

	tg, err := tgbotapi.NewBotAPI(cfg.Bot.Token)
	if err != nil {
		logger.Fatal("telegram init failed", zap.Error(err))
	}
	logger.Info("bot authorized", zap.String("username", tg.Self.UserName))

	b := bot.New(tg, store, cfg.Bot.PageSize, logger)
	if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("bot stopped", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func buildStore(ctx context.Context, cfg config.Config) (news.Store, func(), error) {
	switch cfg.Storage.Backend {
	case "postgres":
		s, err := storagepg.NewRecordStore(ctx, storagepg.Config{
			DSN:      cfg.Storage.DSN,
			Table:    cfg.Storage.Table,
			MaxConns: int32(cfg.Storage.MaxOpenConns),
		})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return storagemem.NewRecordStore(), func() {}, nil
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/solovyov/newswire/internal/api"
	"github.com/solovyov/newswire/internal/archive"
	archivefs "github.com/solovyov/newswire/internal/archive/fs"
	archivegcs "github.com/solovyov/newswire/internal/archive/gcs"
	archivemem "github.com/solovyov/newswire/internal/archive/memory"
	cachemem "github.com/solovyov/newswire/internal/cache/memory"
	cachesqlite "github.com/solovyov/newswire/internal/cache/sqlite"
	"github.com/solovyov/newswire/internal/clock/system"
	"github.com/solovyov/newswire/internal/config"
	"github.com/solovyov/newswire/internal/fetcher"
	"github.com/solovyov/newswire/internal/fetcher/detector"
	"github.com/solovyov/newswire/internal/fetcher/headless"
	"github.com/solovyov/newswire/internal/logging"
	"github.com/solovyov/newswire/internal/news"
	"github.com/solovyov/newswire/internal/parser"
	"github.com/solovyov/newswire/internal/pipeline"
	"github.com/solovyov/newswire/internal/progress"
	"github.com/solovyov/newswire/internal/progress/sinks"
	pubsubpublisher "github.com/solovyov/newswire/internal/publisher/pubsub"
	storagemem "github.com/solovyov/newswire/internal/storage/memory"
	storagepg "github.com/solovyov/newswire/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	once := flag.Bool("once", false, "Run a single scrape and exit")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
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

	clock := system.New()
	registry := prometheus.NewRegistry()

	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		logger.Fatal("prometheus sink init failed", zap.Error(err))
	}
	hub := progress.NewHub(
		progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("events")),
		promSink,
	)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hub.Close(closeCtx)
	}()

	cache, closeCache, err := buildCache(ctx, cfg, clock, logger)
	if err != nil {
		logger.Fatal("cache init failed", zap.Error(err))
	}
	defer closeCache()

	store, closeStore, err := buildStore(ctx, cfg)
	if err != nil {
		logger.Fatal("storage init failed", zap.Error(err))
	}
	defer closeStore()

	fetch, closeFetch := buildFetcher(cfg, clock, logger)
	defer closeFetch()

	pars := parser.New(parser.Config{
		PageParam: cfg.Source.PageParam,
		MaxPages:  cfg.Source.MaxPages,
	}, clock)

	archiver, err := buildArchiver(ctx, cfg)
	if err != nil {
		logger.Fatal("archive init failed", zap.Error(err))
	}

	var publisher news.Publisher
	if cfg.PubSub.Enabled {
		p, err := pubsubpublisher.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			logger.Fatal("pubsub init failed", zap.Error(err))
		}
		defer func() {
			_ = p.Close()
		}()
		publisher = p
	}

	factory := func() (*pipeline.Pipeline, error) {
		opts := []pipeline.Option{pipeline.WithEmitter(hub)}
		if archiver != nil {
			opts = append(opts, pipeline.WithArchiver(archiver))
		}
		if publisher != nil {
			opts = append(opts, pipeline.WithPublisher(publisher))
		}
		return pipeline.New(pipeline.Config{
			Seeds:            cfg.Source.Seeds(),
			FetchConcurrency: cfg.Scraper.Concurrency,
			ParseWorkers:     cfg.Scraper.ParseWorkers,
			QueueDepth:       cfg.Scraper.QueueDepth,
			ParseHighWater:   cfg.Scraper.ParseHighWater,
			Retry: fetcher.Policy{
				MaxAttempts: cfg.Scraper.MaxRetries,
				BaseDelay:   cfg.BackoffInitial(),
				MaxDelay:    cfg.BackoffMax(),
			},
			PublishTopic: cfg.PubSub.TopicName,
		}, fetch, pars, cache, store, clock, logger, opts...), nil
	}

	if *once {
		p, err := factory()
		if err != nil {
			logger.Fatal("pipeline init failed", zap.Error(err))
		}
		stats, err := p.Run(ctx)
		if err != nil {
			logger.Error("scrape run failed", zap.Error(err))
			os.Exit(1)
		}
		logger.Info("scrape run done",
			zap.String("state", string(stats.State)),
			zap.Int64("stored", stats.Stored),
		)
		return
	}

	supervisor := pipeline.NewSupervisor(ctx, factory, logger)
	server := api.NewServer(store, supervisor, registry, logger, cfg.API, probesFor(store, cache)...)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.API.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	supervisor.Wait()
	logger.Info("shutdown complete")
}

func buildCache(ctx context.Context, cfg config.Config, clock news.Clock, logger *zap.Logger) (news.Cache, func(), error) {
	switch cfg.Cache.Backend {
	case "sqlite":
		c, err := cachesqlite.Open(cfg.Cache.Path, clock, cfg.ListingTTL(), cfg.ArticleTTL())
		if err != nil {
			return nil, nil, err
		}
		if cfg.Cache.SweepOnStart {
			removed, err := c.SweepExpired(ctx)
			if err != nil {
				logger.Warn("cache sweep failed", zap.Error(err))
			} else if removed > 0 {
				logger.Info("cache swept", zap.Int("removed", removed))
			}
		}
		return c, func() { _ = c.Close() }, nil
	default:
		return cachemem.New(clock, cfg.ListingTTL(), cfg.ArticleTTL()), func() {}, nil
	}
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

func buildFetcher(cfg config.Config, clock news.Clock, logger *zap.Logger) (news.Fetcher, func()) {
	limiter := fetcher.NewHostLimiter(cfg.Scraper.PerHostRPS, cfg.Scraper.PerHostBurst)
	static := fetcher.New(fetcher.Config{
		UserAgent: cfg.Scraper.UserAgent,
		Timeout:   cfg.RequestTimeout(),
		Delay:     cfg.RequestDelay(),
	}, limiter, clock)

	if !cfg.Headless.Enabled {
		return static, func() {}
	}

	renderer, err := headless.New(headless.Config{
		MaxParallel:       cfg.Headless.MaxParallel,
		UserAgent:         cfg.Scraper.UserAgent,
		NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
	}, clock)
	if err != nil {
		logger.Warn("headless init failed, using static fetcher only", zap.Error(err))
		return static, func() {}
	}
	detect := detector.NewHeuristic(cfg.Headless.MinBodyBytes)
	return fetcher.NewPromoting(static, renderer, detect, logger.Named("promote")), renderer.Close
}

func buildArchiver(ctx context.Context, cfg config.Config) (*archive.Archiver, error) {
	if !cfg.Archive.Enabled {
		return nil, nil
	}
	var blobs news.BlobStore
	switch cfg.Archive.Backend {
	case "fs":
		bs, err := archivefs.New(cfg.Archive.Dir)
		if err != nil {
			return nil, err
		}
		blobs = bs
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, err
		}
		bs, err := archivegcs.New(client, cfg.Archive.GCSBucket)
		if err != nil {
			return nil, err
		}
		blobs = bs
	default:
		blobs = archivemem.NewBlobStore()
	}
	return archive.New(blobs, cfg.Archive.Prefix, cfg.Archive.ContentType), nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

func probesFor(store news.Store, cache news.Cache) []api.Probe {
	var probes []api.Probe
	if p, ok := store.(pinger); ok {
		probes = append(probes, api.Probe{Name: "storage", Check: p.Ping})
	}
	if p, ok := cache.(pinger); ok {
		probes = append(probes, api.Probe{Name: "cache", Check: p.Ping})
	}
	return probes
}

// Package config loads and validates scraper configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Source   SourceConfig   `mapstructure:"source"`
	Scraper  ScraperConfig  `mapstructure:"scraper"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Bot      BotConfig      `mapstructure:"bot"`
	API      APIConfig      `mapstructure:"api"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// SourceConfig describes the news site being scraped.
type SourceConfig struct {
	BaseURL    string   `mapstructure:"base_url"`
	Listings   []string `mapstructure:"listings"`
	Categories []string `mapstructure:"categories"`
	PageParam  string   `mapstructure:"page_param"`
	MaxPages   int      `mapstructure:"max_pages"`
}

// Seeds returns the listing URLs a run starts from. Falls back to the
// base URL when no explicit listings are configured.
func (s SourceConfig) Seeds() []string {
	if len(s.Listings) > 0 {
		return s.Listings
	}
	return []string{s.BaseURL}
}

// ScraperConfig governs the fetch and parse pools.
type ScraperConfig struct {
	Concurrency      int     `mapstructure:"concurrency"`
	ParseWorkers     int     `mapstructure:"parse_workers"`
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	UserAgent        string  `mapstructure:"user_agent"`
	RequestDelayMs   int     `mapstructure:"request_delay_ms"`
	PerHostRPS       float64 `mapstructure:"per_host_rps"`
	PerHostBurst     int     `mapstructure:"per_host_burst"`
	MaxRetries       int     `mapstructure:"max_retries"`
	BackoffInitialMs int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int     `mapstructure:"backoff_max_ms"`
	QueueDepth       int     `mapstructure:"queue_depth"`
	ParseHighWater   int     `mapstructure:"parse_high_water"`
}

// HeadlessConfig configures the headless rendering fallback.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
	MinBodyBytes  int  `mapstructure:"min_body_bytes"`
}

// CacheConfig selects the cache backend and its TTLs.
type CacheConfig struct {
	Backend           string `mapstructure:"backend"`
	Path              string `mapstructure:"path"`
	ListingTTLMinutes int    `mapstructure:"listing_ttl_minutes"`
	ArticleTTLHours   int    `mapstructure:"article_ttl_hours"`
	SweepOnStart      bool   `mapstructure:"sweep_on_start"`
}

// StorageConfig controls access to the record database.
type StorageConfig struct {
	Backend      string `mapstructure:"backend"`
	DSN          string `mapstructure:"dsn"`
	Table        string `mapstructure:"table"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// ArchiveConfig sets raw-page blob persistence. Disabled by default.
type ArchiveConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Backend     string `mapstructure:"backend"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Dir         string `mapstructure:"dir"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// PubSubConfig holds metadata for stored-record notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// BotConfig configures the messaging front end.
type BotConfig struct {
	Token    string `mapstructure:"token"`
	PageSize int    `mapstructure:"page_size"`
}

// APIConfig controls the admin HTTP server.
type APIConfig struct {
	Port           int    `mapstructure:"port"`
	AuthEnabled    bool   `mapstructure:"auth_enabled"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// LoggingConfig selects the zap level and encoder.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("NEWSWIRE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("source.base_url", "https://news.utmn.ru/news/stories/")
	v.SetDefault("source.page_param", "PAGEN_1")
	v.SetDefault("source.max_pages", 50)
	v.SetDefault("scraper.concurrency", 10)
	v.SetDefault("scraper.parse_workers", 0)
	v.SetDefault("scraper.timeout_seconds", 10)
	v.SetDefault("scraper.user_agent", "newswire/1.0")
	v.SetDefault("scraper.request_delay_ms", 100)
	v.SetDefault("scraper.per_host_rps", 10)
	v.SetDefault("scraper.per_host_burst", 5)
	v.SetDefault("scraper.max_retries", 3)
	v.SetDefault("scraper.backoff_initial_ms", 250)
	v.SetDefault("scraper.backoff_max_ms", 5000)
	v.SetDefault("scraper.queue_depth", 1024)
	v.SetDefault("scraper.parse_high_water", 64)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.min_body_bytes", 512)
	v.SetDefault("cache.backend", "sqlite")
	v.SetDefault("cache.path", "newswire-cache.db")
	v.SetDefault("cache.listing_ttl_minutes", 30)
	v.SetDefault("cache.article_ttl_hours", 24)
	v.SetDefault("cache.sweep_on_start", true)
	v.SetDefault("storage.backend", "postgres")
	v.SetDefault("storage.table", "news_records")
	v.SetDefault("storage.max_open_conns", 8)
	v.SetDefault("archive.enabled", false)
	v.SetDefault("archive.backend", "fs")
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("archive.content_type", "text/html; charset=utf-8")
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("bot.page_size", 5)
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.timeout_seconds", 30)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Source.BaseURL == "" {
		return fmt.Errorf("source.base_url must be set")
	}
	if c.Scraper.Concurrency <= 0 {
		return fmt.Errorf("scraper.concurrency must be > 0")
	}
	if c.Scraper.TimeoutSeconds <= 0 {
		return fmt.Errorf("scraper.timeout_seconds must be > 0")
	}
	if c.Scraper.ParseHighWater <= 0 {
		return fmt.Errorf("scraper.parse_high_water must be > 0")
	}
	if c.Scraper.QueueDepth < c.Scraper.ParseHighWater {
		return fmt.Errorf("scraper.queue_depth must be >= scraper.parse_high_water")
	}
	switch c.Cache.Backend {
	case "memory":
	case "sqlite":
		if c.Cache.Path == "" {
			return fmt.Errorf("cache.path must be set for the sqlite backend")
		}
	default:
		return fmt.Errorf("cache.backend must be memory or sqlite, got %q", c.Cache.Backend)
	}
	switch c.Storage.Backend {
	case "memory":
	case "postgres":
		if c.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn must be set for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend must be memory or postgres, got %q", c.Storage.Backend)
	}
	if c.Archive.Enabled {
		switch c.Archive.Backend {
		case "memory":
		case "fs":
			if c.Archive.Dir == "" {
				return fmt.Errorf("archive.dir must be set for the fs backend")
			}
		case "gcs":
			if c.Archive.GCSBucket == "" {
				return fmt.Errorf("archive.gcs_bucket must be set for the gcs backend")
			}
		default:
			return fmt.Errorf("archive.backend must be memory, fs or gcs, got %q", c.Archive.Backend)
		}
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.API.AuthEnabled && c.API.APIKey == "" {
		return fmt.Errorf("api.api_key must be set when auth is enabled")
	}
	return nil
}

// RequestTimeout is the per-fetch deadline.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.Scraper.TimeoutSeconds) * time.Second
}

// RequestDelay is the fixed politeness pause before each fetch.
func (c Config) RequestDelay() time.Duration {
	return time.Duration(c.Scraper.RequestDelayMs) * time.Millisecond
}

// BackoffInitial is the first retry delay.
func (c Config) BackoffInitial() time.Duration {
	return time.Duration(c.Scraper.BackoffInitialMs) * time.Millisecond
}

// BackoffMax caps retry delays.
func (c Config) BackoffMax() time.Duration {
	return time.Duration(c.Scraper.BackoffMaxMs) * time.Millisecond
}

// ListingTTL is how long listing pages stay fresh in the cache.
func (c Config) ListingTTL() time.Duration {
	return time.Duration(c.Cache.ListingTTLMinutes) * time.Minute
}

// ArticleTTL is how long article pages stay fresh in the cache.
func (c Config) ArticleTTL() time.Duration {
	return time.Duration(c.Cache.ArticleTTLHours) * time.Hour
}

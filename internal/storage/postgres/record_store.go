// Package postgres persists news records in PostgreSQL.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/solovyov/newswire/internal/news"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// defaultQueryLimit bounds unpaginated queries.
const defaultQueryLimit = 50

// Config controls the Postgres connection pool used for record rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// RecordStore implements news.Store on a pgx pool. The pipeline writes
// through Upsert; the bot and the admin API read through Query/Count.
type RecordStore struct {
	pool  dbPool
	table string
}

// NewRecordStore creates a Postgres-backed RecordStore using the
// provided config.
func NewRecordStore(ctx context.Context, cfg Config) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: connect postgres: %v", news.ErrStorageUnavailable, err)
	}
	return &RecordStore{pool: pool, table: table}, nil
}

// NewRecordStoreWithPool constructs a store from an existing pool
// (primarily for testing with pgxmock).
func NewRecordStoreWithPool(pool dbPool, table string) (*RecordStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &RecordStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = "news_records"
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping verifies the database is reachable. The pipeline refuses to
// start a run when this fails.
func (s *RecordStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", news.ErrStorageUnavailable, err)
	}
	return nil
}

// CreateSchema creates the records table if it does not exist.
func (s *RecordStore) CreateSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	category TEXT NOT NULL,
	published_at TIMESTAMPTZ NOT NULL,
	summary TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL,
	url TEXT NOT NULL UNIQUE,
	scraped_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_%s_category ON %s (category);
CREATE INDEX IF NOT EXISTS idx_%s_published_at ON %s (published_at DESC);
`, s.table, s.table, s.table, s.table, s.table)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Upsert inserts a record or overwrites the existing row with the same
// ID. The ID is derived from the canonical URL, so re-scraping an
// article updates it in place instead of duplicating it.
func (s *RecordStore) Upsert(ctx context.Context, record news.NewsRecord) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("refuse to persist partial record: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, title, category, published_at, summary, body, url, scraped_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id) DO UPDATE SET
	title = EXCLUDED.title,
	category = EXCLUDED.category,
	published_at = EXCLUDED.published_at,
	summary = EXCLUDED.summary,
	body = EXCLUDED.body,
	scraped_at = EXCLUDED.scraped_at`, s.table)

	args := []any{
		record.ID,
		record.Title,
		record.Category,
		record.PublishedAt,
		record.Summary,
		record.Body,
		record.URL,
		record.ScrapedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

// Query returns records matching the filter, newest first.
func (s *RecordStore) Query(ctx context.Context, filter news.RecordFilter) ([]news.NewsRecord, error) {
	where, args := filterClause(filter)
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	args = append(args, limit, filter.Offset)
	query := fmt.Sprintf(
		`SELECT id, title, category, published_at, summary, body, url, scraped_at FROM %s%s ORDER BY published_at DESC, id LIMIT $%d OFFSET $%d`,
		s.table, where, len(args)-1, len(args),
	)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []news.NewsRecord
	for rows.Next() {
		var r news.NewsRecord
		if err := rows.Scan(
			&r.ID, &r.Title, &r.Category, &r.PublishedAt,
			&r.Summary, &r.Body, &r.URL, &r.ScrapedAt,
		); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

// Count reports how many records match the filter, ignoring pagination.
func (s *RecordStore) Count(ctx context.Context, filter news.RecordFilter) (int, error) {
	where, args := filterClause(filter)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s%s`, s.table, where)

	var count int
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return count, nil
}

// filterClause renders the WHERE clause for a filter. Category matches
// case-insensitively on a substring, matching how users type it at the
// bot.
func filterClause(filter news.RecordFilter) (string, []any) {
	var conditions []string
	var args []any

	if filter.Category != "" {
		args = append(args, "%"+filter.Category+"%")
		conditions = append(conditions, fmt.Sprintf("category ILIKE $%d", len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		conditions = append(conditions, fmt.Sprintf("published_at >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		conditions = append(conditions, fmt.Sprintf("published_at <= $%d", len(args)))
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

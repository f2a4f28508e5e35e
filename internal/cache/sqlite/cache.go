// Package sqlite provides a durable cache shared across runs. Claims
// go through the database, so two overlapping runs pointed at the same
// cache file still agree on who owns a URL.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/solovyov/newswire/internal/news"
)

// claimTTL bounds how long a provisional claim survives without being
// fulfilled, so a crashed run cannot wedge a URL.
const claimTTL = 5 * time.Minute

// Cache persists entries in a SQLite file.
type Cache struct {
	db         *sql.DB
	clock      news.Clock
	listingTTL time.Duration
	articleTTL time.Duration
}

// Open opens or creates the cache database at path.
func Open(path string, clock news.Clock, listingTTL, articleTTL time.Duration) (*Cache, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", news.ErrCacheUnavailable, path, err)
	}

	// WAL keeps readers from blocking the claiming writer.
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("%w: enable WAL: %v", news.ErrCacheUnavailable, err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, fmt.Errorf("%w: set busy timeout: %v", news.ErrCacheUnavailable, err)
	}

	c := &Cache{db: db, clock: clock, listingTTL: listingTTL, articleTTL: articleTTL}
	if err := c.initSchema(); err != nil {
		return nil, fmt.Errorf("%w: init schema: %v", news.ErrCacheUnavailable, err)
	}
	return c, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Ping verifies the cache file is usable.
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", news.ErrCacheUnavailable, err)
	}
	return nil
}

func (c *Cache) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cache_entries (
		key TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		record_id TEXT NOT NULL DEFAULT '',
		etag TEXT NOT NULL DEFAULT '',
		last_modified TEXT NOT NULL DEFAULT '',
		expires_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_cache_expires ON cache_entries(expires_at);
	`
	_, err := c.db.Exec(schema)
	return err
}

// Lookup returns the entry for url if one exists and is still fresh.
func (c *Cache) Lookup(ctx context.Context, url string) (news.CacheEntry, bool, error) {
	entry, err := c.get(ctx, url)
	if err != nil {
		return news.CacheEntry{}, false, err
	}
	if entry == nil || !entry.Fresh(c.clock.Now()) {
		return news.CacheEntry{}, false, nil
	}
	return *entry, true, nil
}

// Claim atomically decides who works on url. The insert-or-ignore is
// the race arbiter: exactly one concurrent claimer gets a row in.
// Expired rows are taken over with a guarded update.
func (c *Cache) Claim(ctx context.Context, url string, kind news.PageKind) (news.Claim, error) {
	now := c.clock.Now()
	deadline := now.Add(claimTTL)

	// Two passes cover the window where a sweep deletes the row
	// between our failed insert and the takeover update.
	for attempt := 0; attempt < 2; attempt++ {
		res, err := c.db.ExecContext(ctx, `
			INSERT INTO cache_entries (key, kind, record_id, expires_at)
			VALUES (?, ?, '', ?)
			ON CONFLICT(key) DO NOTHING`,
			url, string(kind), deadline,
		)
		if err != nil {
			return news.Claim{}, fmt.Errorf("claim %q: %w", url, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 1 {
			entry := news.CacheEntry{Key: url, Kind: kind, ExpiresAt: deadline}
			return news.Claim{State: news.ClaimAcquired, Entry: entry}, nil
		}

		prior, err := c.get(ctx, url)
		if err != nil {
			return news.Claim{}, err
		}
		if prior == nil {
			continue
		}

		// Take over the expired row. Validator columns survive so a
		// revalidating fetch can still use them.
		res, err = c.db.ExecContext(ctx, `
			UPDATE cache_entries
			SET kind = ?, record_id = '', expires_at = ?
			WHERE key = ? AND expires_at <= ?`,
			string(kind), deadline, url, now,
		)
		if err != nil {
			return news.Claim{}, fmt.Errorf("claim %q: %w", url, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 1 {
			entry := news.CacheEntry{Key: url, Kind: kind, ExpiresAt: deadline}
			return news.Claim{State: news.ClaimAcquired, Entry: entry, Prior: *prior}, nil
		}

		entry, err := c.get(ctx, url)
		if err != nil {
			return news.Claim{}, err
		}
		if entry == nil {
			continue
		}
		if entry.Fulfilled() && entry.Fresh(now) {
			return news.Claim{State: news.ClaimCached, Entry: *entry}, nil
		}
		return news.Claim{State: news.ClaimHeld, Entry: *entry}, nil
	}
	return news.Claim{}, fmt.Errorf("claim %q: entry kept vanishing", url)
}

// Fulfill completes a claim. Listing fulfillments (recordID
// news.ListingRecordID) get the listing TTL, everything else the
// article TTL.
func (c *Cache) Fulfill(ctx context.Context, url string, recordID string, validators news.Validators) error {
	ttl := c.articleTTL
	kind := news.PageKindArticle
	if recordID == news.ListingRecordID {
		ttl = c.listingTTL
		kind = news.PageKindListing
	}
	expires := c.clock.Now().Add(ttl)

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO cache_entries (key, kind, record_id, etag, last_modified, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			kind = excluded.kind,
			record_id = excluded.record_id,
			etag = excluded.etag,
			last_modified = excluded.last_modified,
			expires_at = excluded.expires_at`,
		url, string(kind), recordID, validators.ETag, validators.LastModified, expires,
	)
	if err != nil {
		return fmt.Errorf("fulfill %q: %w", url, err)
	}
	return nil
}

// Release abandons a provisional claim so the URL can be retried
// later. Fulfilled entries are left alone.
func (c *Cache) Release(ctx context.Context, url string) error {
	_, err := c.db.ExecContext(ctx,
		"DELETE FROM cache_entries WHERE key = ? AND record_id = ''", url)
	if err != nil {
		return fmt.Errorf("release %q: %w", url, err)
	}
	return nil
}

// Invalidate drops the entry for url regardless of state.
func (c *Cache) Invalidate(ctx context.Context, url string) error {
	_, err := c.db.ExecContext(ctx, "DELETE FROM cache_entries WHERE key = ?", url)
	if err != nil {
		return fmt.Errorf("invalidate %q: %w", url, err)
	}
	return nil
}

// SweepExpired removes entries past their TTL and reports how many.
func (c *Cache) SweepExpired(ctx context.Context) (int, error) {
	res, err := c.db.ExecContext(ctx,
		"DELETE FROM cache_entries WHERE expires_at <= ?", c.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("sweep expired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

func (c *Cache) get(ctx context.Context, url string) (*news.CacheEntry, error) {
	var e news.CacheEntry
	var kind string
	err := c.db.QueryRowContext(ctx, `
		SELECT key, kind, record_id, etag, last_modified, expires_at
		FROM cache_entries WHERE key = ?`, url,
	).Scan(&e.Key, &kind, &e.RecordID, &e.ETag, &e.LastModified, &e.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", url, err)
	}
	e.Kind = news.PageKind(kind)
	return &e, nil
}

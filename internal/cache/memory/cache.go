// Package memory provides a process-local cache for single-run use.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/solovyov/newswire/internal/news"
)

// claimTTL bounds how long a provisional claim survives without being
// fulfilled, so a crashed worker cannot wedge a URL.
const claimTTL = 5 * time.Minute

// Cache keeps entries in a mutex-guarded map. State is lost on restart,
// which makes it a fit for one-shot runs and tests.
type Cache struct {
	clock      news.Clock
	listingTTL time.Duration
	articleTTL time.Duration

	mu      sync.Mutex
	entries map[string]news.CacheEntry
}

// New constructs an empty cache with per-kind TTLs.
func New(clock news.Clock, listingTTL, articleTTL time.Duration) *Cache {
	return &Cache{
		clock:      clock,
		listingTTL: listingTTL,
		articleTTL: articleTTL,
		entries:    make(map[string]news.CacheEntry),
	}
}

// Lookup returns the entry for url if one exists and is still fresh.
func (c *Cache) Lookup(_ context.Context, url string) (news.CacheEntry, bool, error) {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[url]
	if !ok || !e.Fresh(now) {
		return news.CacheEntry{}, false, nil
	}
	return e, true, nil
}

// Claim atomically decides who works on url. A miss (or an expired
// entry) installs a provisional entry owned by the caller; a fresh
// fulfilled entry short-circuits the URL; a fresh provisional entry
// means another worker got there first.
func (c *Cache) Claim(_ context.Context, url string, kind news.PageKind) (news.Claim, error) {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	prior, had := c.entries[url]
	if had && prior.Fresh(now) {
		if prior.Fulfilled() {
			return news.Claim{State: news.ClaimCached, Entry: prior}, nil
		}
		return news.Claim{State: news.ClaimHeld, Entry: prior}, nil
	}

	entry := news.CacheEntry{Key: url, Kind: kind, ExpiresAt: now.Add(claimTTL)}
	c.entries[url] = entry
	claim := news.Claim{State: news.ClaimAcquired, Entry: entry}
	if had {
		claim.Prior = prior
	}
	return claim, nil
}

// Fulfill completes a claim. Listing fulfillments (recordID
// news.ListingRecordID) get the listing TTL, everything else the
// article TTL.
func (c *Cache) Fulfill(_ context.Context, url string, recordID string, validators news.Validators) error {
	now := c.clock.Now()
	ttl := c.articleTTL
	kind := news.PageKindArticle
	if recordID == news.ListingRecordID {
		ttl = c.listingTTL
		kind = news.PageKindListing
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[url] = news.CacheEntry{
		Key:          url,
		Kind:         kind,
		RecordID:     recordID,
		ETag:         validators.ETag,
		LastModified: validators.LastModified,
		ExpiresAt:    now.Add(ttl),
	}
	return nil
}

// Release abandons a provisional claim so the URL can be retried by a
// later run. Fulfilled entries are left alone.
func (c *Cache) Release(_ context.Context, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[url]; ok && !e.Fulfilled() {
		delete(c.entries, url)
	}
	return nil
}

// Invalidate drops the entry for url regardless of state.
func (c *Cache) Invalidate(_ context.Context, url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, url)
	return nil
}

// SweepExpired removes entries past their TTL and reports how many.
func (c *Cache) SweepExpired(_ context.Context) (int, error) {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, e := range c.entries {
		if !e.Fresh(now) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of entries, fresh or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

package news

import (
	"context"
	"time"
)

// Fetcher downloads one page and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, ref ArticleRef) (RawPage, error)
}

// Cache answers "was this URL scraped recently, and is anyone working
// on it right now". Claim must be atomic under concurrent workers.
type Cache interface {
	Lookup(ctx context.Context, url string) (CacheEntry, bool, error)
	Claim(ctx context.Context, url string, kind PageKind) (Claim, error)
	Fulfill(ctx context.Context, url string, recordID string, validators Validators) error
	Release(ctx context.Context, url string) error
	Invalidate(ctx context.Context, url string) error
	SweepExpired(ctx context.Context) (int, error)
}

// Store persists news records. The pipeline only upserts; read paths
// (bot, API) only query.
type Store interface {
	Upsert(ctx context.Context, record NewsRecord) error
	Query(ctx context.Context, filter RecordFilter) ([]NewsRecord, error)
	Count(ctx context.Context, filter RecordFilter) (int, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes stored-record events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

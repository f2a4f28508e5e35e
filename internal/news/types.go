// Package news defines core types shared across subsystems.
package news

import (
	"errors"
	"time"
)

// PageKind classifies what a URL is expected to point at.
type PageKind string

// Page kinds carried on refs, raw pages, and cache entries.
const (
	// PageKindAuto defers classification to the parser.
	PageKindAuto    PageKind = "auto"
	PageKindListing PageKind = "listing"
	PageKindArticle PageKind = "article"
)

// ArticleRef is a unit of fetch work. Identity is the canonical URL.
// Validators, when present, let the fetcher issue a conditional request
// instead of an unconditional one.
type ArticleRef struct {
	URL          string
	Kind         PageKind
	DiscoveredAt time.Time
	Validators   Validators
}

// RawPage is the transient payload handed from the fetch stage to the
// parse stage. It is passed by value and never shared mutably.
type RawPage struct {
	URL          string
	Kind         PageKind
	StatusCode   int
	Body         []byte
	ETag         string
	LastModified string
	FetchedAt    time.Time
	UsedHeadless bool
}

// NewsRecord is the persisted unit of scraped content. ID is derived
// from the canonical URL, so re-scraping a URL overwrites in place.
type NewsRecord struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Category    string    `json:"category"`
	PublishedAt time.Time `json:"published_at"`
	Summary     string    `json:"summary,omitempty"`
	Body        string    `json:"body"`
	URL         string    `json:"url"`
	ScrapedAt   time.Time `json:"scraped_at"`
}

// Validate reports whether the record satisfies the storage contract.
// Records missing any required field are never persisted.
func (r NewsRecord) Validate() error {
	switch {
	case r.ID == "":
		return errors.New("record missing id")
	case r.URL == "":
		return errors.New("record missing url")
	case r.Title == "":
		return errors.New("record missing title")
	case r.Category == "":
		return errors.New("record missing category")
	case r.PublishedAt.IsZero():
		return errors.New("record missing published date")
	case r.Body == "":
		return errors.New("record missing body")
	}
	return nil
}

// RecordFilter narrows a storage query. Zero values mean "no constraint";
// Limit <= 0 falls back to the provider default.
type RecordFilter struct {
	Category string
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}

// ListingRecordID marks a fulfilled cache entry for a listing page,
// which produces refs rather than a record.
const ListingRecordID = "-"

// CacheEntry tracks fetch/parse state for one canonical URL. An entry
// with an empty RecordID is provisional: some worker has claimed the
// URL and has not finished it yet.
type CacheEntry struct {
	Key          string
	Kind         PageKind
	RecordID     string
	ETag         string
	LastModified string
	ExpiresAt    time.Time
}

// Fresh reports whether the entry is still inside its TTL.
func (e CacheEntry) Fresh(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}

// Fulfilled reports whether the claimed work behind the entry completed.
// Listing pages fulfill with RecordID "-" since they yield no record.
func (e CacheEntry) Fulfilled() bool {
	return e.RecordID != ""
}

// Validators are the conditional-request headers captured from the
// origin, stored alongside the cache entry when present.
type Validators struct {
	ETag         string
	LastModified string
}

// ClaimState is the outcome of an atomic cache claim.
type ClaimState string

// Claim outcomes.
const (
	// ClaimAcquired means the caller now owns the URL and must
	// Fulfill or Release it.
	ClaimAcquired ClaimState = "acquired"
	// ClaimCached means a fresh fulfilled entry exists; skip the URL.
	ClaimCached ClaimState = "cached"
	// ClaimHeld means another worker holds a provisional claim.
	ClaimHeld ClaimState = "held"
)

// Claim is the result of Cache.Claim. Entry is populated for
// ClaimCached and ClaimHeld outcomes. Prior carries the expired entry
// an acquired claim replaced, so the fetch can revalidate with the old
// ETag/Last-Modified and keep the old record on a 304.
type Claim struct {
	State ClaimState
	Entry CacheEntry
	Prior CacheEntry
}

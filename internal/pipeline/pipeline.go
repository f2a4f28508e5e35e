// Package pipeline drives one end-to-end scrape run: it seeds the
// queue with listing URLs, runs the fetch and parse worker pools, and
// reports run statistics when the queue drains.
package pipeline

import (
	"context"
	"fmt"
	"net/url"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/solovyov/newswire/internal/archive"
	"github.com/solovyov/newswire/internal/fetcher"
	"github.com/solovyov/newswire/internal/news"
	"github.com/solovyov/newswire/internal/parser"
	"github.com/solovyov/newswire/internal/progress"
	"github.com/solovyov/newswire/internal/queue"
)

// State is the run-level lifecycle.
type State string

// Run states. Draining is the only state with active workers.
const (
	StateIdle      State = "idle"
	StateSeeding   State = "seeding"
	StateDraining  State = "draining"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StateFailed    State = "failed"
)

// PageParser is the parse stage contract.
type PageParser interface {
	Parse(page news.RawPage) (parser.Result, error)
}

// Config controls one pipeline run.
type Config struct {
	// Seeds are the listing URLs a run starts from.
	Seeds []string
	// FetchConcurrency bounds in-flight network fetches.
	FetchConcurrency int
	// ParseWorkers sizes the parse pool; zero means GOMAXPROCS.
	ParseWorkers int
	// QueueDepth bounds the buffered raw pages awaiting parse.
	// Discovered refs are always admitted.
	QueueDepth int
	// ParseHighWater is the parse backlog at which fetching pauses.
	ParseHighWater int
	// Retry is the per-task fetch retry policy.
	Retry fetcher.Policy
	// PublishTopic names the stored-record notification topic.
	PublishTopic string
}

// Stats summarizes a finished (or cancelled) run.
type Stats struct {
	RunID       uuid.UUID     `json:"run_id"`
	State       State         `json:"state"`
	Fetched     int64         `json:"fetched"`
	Parsed      int64         `json:"parsed"`
	CacheHits   int64         `json:"cache_hits"`
	FetchErrors int64         `json:"fetch_errors"`
	ParseErrors int64         `json:"parse_errors"`
	Discovered  int64         `json:"discovered"`
	Stored      int64         `json:"stored"`
	Elapsed     time.Duration `json:"elapsed"`
}

// counters are the run-local atomics the workers update.
type counters struct {
	fetched     atomic.Int64
	parsed      atomic.Int64
	cacheHits   atomic.Int64
	fetchErrors atomic.Int64
	parseErrors atomic.Int64
	discovered  atomic.Int64
	stored      atomic.Int64
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Pipeline owns the single Cache and queue Manager instances of a run
// and hands them to the workers explicitly. A Pipeline runs once.
type Pipeline struct {
	cfg       Config
	fetch     news.Fetcher
	parse     PageParser
	cache     news.Cache
	store     news.Store
	archiver  *archive.Archiver
	publisher news.Publisher
	emitter   progress.Emitter
	clock     news.Clock
	logger    *zap.Logger

	runID uuid.UUID
	state atomic.Value
	stats counters
}

// Option customizes optional collaborators.
type Option func(*Pipeline)

// WithArchiver enables raw-page archival before parsing.
func WithArchiver(a *archive.Archiver) Option {
	return func(p *Pipeline) { p.archiver = a }
}

// WithPublisher enables stored-record notifications.
func WithPublisher(pub news.Publisher) Option {
	return func(p *Pipeline) { p.publisher = pub }
}

// WithEmitter wires progress reporting.
func WithEmitter(e progress.Emitter) Option {
	return func(p *Pipeline) { p.emitter = e }
}

// New constructs a single-use Pipeline.
func New(
	cfg Config,
	fetch news.Fetcher,
	parse PageParser,
	cache news.Cache,
	store news.Store,
	clock news.Clock,
	logger *zap.Logger,
	opts ...Option,
) *Pipeline {
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	p := &Pipeline{
		cfg:    cfg,
		fetch:  fetch,
		parse:  parse,
		cache:  cache,
		store:  store,
		clock:  clock,
		logger: logger.Named("pipeline").With(zap.String("run_id", id.String())),
		runID:  id,
	}
	p.state.Store(StateIdle)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// RunID identifies this run.
func (p *Pipeline) RunID() uuid.UUID {
	return p.runID
}

// State reports the current run state.
func (p *Pipeline) State() State {
	return p.state.Load().(State)
}

// Run executes the pipeline until the queue drains or ctx is
// cancelled. Cancellation stops seeding, lets in-flight work finish at
// its next checkpoint, and returns partial stats with a nil error; an
// error is returned only when a required dependency is unavailable at
// start.
func (p *Pipeline) Run(ctx context.Context) (Stats, error) {
	start := p.clock.Now()

	if err := p.probe(ctx); err != nil {
		p.state.Store(StateFailed)
		return p.snapshot(StateFailed, start), err
	}

	p.state.Store(StateSeeding)
	q := queue.NewManager(p.cfg.QueueDepth, p.cfg.ParseHighWater)
	seeded, err := p.seed(ctx, q)
	if err != nil {
		q.Close()
		p.state.Store(StateFailed)
		return p.snapshot(StateFailed, start), err
	}
	p.logger.Info("run seeded", zap.Int("listings", seeded))
	q.Seal()

	p.state.Store(StateDraining)
	var wg sync.WaitGroup
	for i := 0; i < p.cfg.FetchConcurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.fetchLoop(ctx, q)
		}()
	}
	for i := 0; i < parseWorkers(p.cfg.ParseWorkers); i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.parseLoop(ctx, q)
		}()
	}

	cancelled := q.Wait(ctx) != nil
	if cancelled {
		// Stop handing out work; running fetch/parse calls reach their
		// next checkpoint and bail out via ctx.
		q.Close()
	}
	wg.Wait()
	if cancelled {
		// Pages stranded in the parse stream still hold provisional
		// claims. Hand those back so a rerun can claim the URLs instead
		// of skipping them until the claims expire.
		for _, page := range q.DrainParse() {
			p.release(ctx, page.URL)
		}
	}

	final := StateCompleted
	if cancelled {
		final = StateCancelled
	}
	p.state.Store(final)

	stats := p.snapshot(final, start)
	p.emitSummary(stats)
	p.logger.Info("run finished",
		zap.String("state", string(final)),
		zap.Int64("fetched", stats.Fetched),
		zap.Int64("parsed", stats.Parsed),
		zap.Int64("cache_hits", stats.CacheHits),
		zap.Int64("fetch_errors", stats.FetchErrors),
		zap.Int64("parse_errors", stats.ParseErrors),
		zap.Int64("stored", stats.Stored),
		zap.Duration("elapsed", stats.Elapsed),
	)
	return stats, nil
}

// probe verifies storage and cache are reachable before any work
// starts. Partial failure is the norm later in the run; a dead
// dependency at start fails the whole run instead.
func (p *Pipeline) probe(ctx context.Context) error {
	if pg, ok := p.store.(pinger); ok {
		if err := pg.Ping(ctx); err != nil {
			return fmt.Errorf("storage probe: %w", err)
		}
	}
	if pg, ok := p.cache.(pinger); ok {
		if err := pg.Ping(ctx); err != nil {
			return fmt.Errorf("cache probe: %w", err)
		}
	}
	return nil
}

func (p *Pipeline) seed(ctx context.Context, q *queue.Manager) (int, error) {
	seeded := 0
	for _, raw := range p.cfg.Seeds {
		canonical, err := news.Canonicalize(raw)
		if err != nil {
			return seeded, fmt.Errorf("seed %q: %w", raw, err)
		}
		ref := news.ArticleRef{
			URL:          canonical,
			Kind:         news.PageKindListing,
			DiscoveredAt: p.clock.Now(),
		}
		ok, err := q.EnqueueFetch(ctx, ref)
		if err != nil {
			return seeded, fmt.Errorf("seed %q: %w", raw, err)
		}
		if ok {
			seeded++
		}
	}
	return seeded, nil
}

// fetchLoop drains fetch tasks until the run ends. Every dequeued URL
// is handed back to the manager exactly once: here for cache hits and
// failures, or by the parse stage once the page is processed.
func (p *Pipeline) fetchLoop(ctx context.Context, q *queue.Manager) {
	for {
		ref, ok := q.DequeueFetch(ctx)
		if !ok {
			return
		}
		p.fetchOne(ctx, q, ref)
	}
}

func (p *Pipeline) fetchOne(ctx context.Context, q *queue.Manager, ref news.ArticleRef) {
	claim, err := p.cache.Claim(ctx, ref.URL, ref.Kind)
	if err != nil {
		p.logger.Warn("cache claim failed", zap.String("url", ref.URL), zap.Error(err))
		p.stats.fetchErrors.Add(1)
		q.Done(ref.URL)
		return
	}
	switch claim.State {
	case news.ClaimCached:
		p.stats.cacheHits.Add(1)
		p.emit(progress.Event{Stage: progress.StageCacheHit, URL: ref.URL, Host: hostOf(ref.URL)})
		q.Done(ref.URL)
		return
	case news.ClaimHeld:
		// Another worker or an overlapping run owns this URL.
		q.Done(ref.URL)
		return
	}

	// Acquired: revalidate against the expired entry when we have
	// something to revalidate with.
	ref.Validators = news.Validators{
		ETag:         claim.Prior.ETag,
		LastModified: claim.Prior.LastModified,
	}

	page, ok := p.download(ctx, ref)
	if !ok {
		p.release(ctx, ref.URL)
		q.Done(ref.URL)
		return
	}

	if page.StatusCode == 304 && claim.Prior.Fulfilled() {
		// Origin confirmed the cached copy; refresh the entry without
		// re-parsing.
		validators := news.Validators{ETag: claim.Prior.ETag, LastModified: claim.Prior.LastModified}
		if err := p.cache.Fulfill(ctx, ref.URL, claim.Prior.RecordID, validators); err != nil {
			p.logger.Warn("cache fulfill failed", zap.String("url", ref.URL), zap.Error(err))
		}
		q.Done(ref.URL)
		return
	}

	if p.archiver != nil && len(page.Body) > 0 {
		if _, err := p.archiver.Archive(ctx, page); err != nil {
			p.logger.Warn("page archive failed", zap.String("url", page.URL), zap.Error(err))
		}
	}

	if err := q.EnqueueParse(ctx, page); err != nil {
		p.release(ctx, ref.URL)
		q.Done(ref.URL)
	}
}

// download runs the per-task retry state machine: bounded attempts
// with jittered exponential backoff on transient errors.
func (p *Pipeline) download(ctx context.Context, ref news.ArticleRef) (news.RawPage, bool) {
	host := hostOf(ref.URL)
	sched := fetcher.NewSchedule(p.cfg.Retry)
	for {
		attempt := sched.Attempts() + 1
		p.emit(progress.Event{
			Stage:   progress.StageFetchAttempt,
			URL:     ref.URL,
			Host:    host,
			Attempt: attempt,
		})

		start := p.clock.Now()
		page, err := p.fetch.Fetch(ctx, ref)
		if err == nil {
			p.stats.fetched.Add(1)
			p.emit(progress.Event{
				Stage:       progress.StageFetchSuccess,
				URL:         ref.URL,
				Host:        host,
				Attempt:     attempt,
				StatusClass: progress.ClassifyStatus(page.StatusCode),
				Bytes:       int64(len(page.Body)),
				Dur:         p.clock.Now().Sub(start),
			})
			return page, true
		}
		if ctx.Err() != nil {
			return news.RawPage{}, false
		}

		delay, retry := sched.Record(err)
		if !retry {
			p.stats.fetchErrors.Add(1)
			p.emit(progress.Event{
				Stage:   progress.StageFetchFailure,
				URL:     ref.URL,
				Host:    host,
				Attempt: attempt,
				Note:    err.Error(),
			})
			p.logger.Warn("fetch abandoned",
				zap.String("url", ref.URL),
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
			return news.RawPage{}, false
		}

		select {
		case <-ctx.Done():
			return news.RawPage{}, false
		case <-time.After(delay):
		}
	}
}

// parseLoop drains parse tasks until the run ends.
func (p *Pipeline) parseLoop(ctx context.Context, q *queue.Manager) {
	for {
		page, ok := q.DequeueParse(ctx)
		if !ok {
			return
		}
		p.parseOne(ctx, q, page)
		q.Done(page.URL)
	}
}

func (p *Pipeline) parseOne(ctx context.Context, q *queue.Manager, page news.RawPage) {
	result, err := p.parse.Parse(page)
	if err != nil {
		p.stats.parseErrors.Add(1)
		note := err.Error()
		if reason, ok := news.ParseFailure(err); ok {
			note = string(reason)
		}
		p.emit(progress.Event{Stage: progress.StageParseFailure, URL: page.URL, Host: hostOf(page.URL), Note: note})
		p.logger.Warn("parse failed", zap.String("url", page.URL), zap.Error(err))
		p.release(ctx, page.URL)
		return
	}

	validators := news.Validators{ETag: page.ETag, LastModified: page.LastModified}
	switch result.Kind {
	case news.PageKindListing:
		// Enqueue discoveries before this URL is marked done, so the
		// run cannot complete while refs are still joining it.
		for _, ref := range result.Refs {
			ok, err := q.EnqueueFetch(ctx, ref)
			if err != nil {
				// Run is shutting down mid-discovery; drop the claim so
				// a rerun can pick this listing up again.
				p.release(ctx, page.URL)
				return
			}
			if ok {
				p.stats.discovered.Add(1)
			}
		}
		if err := p.cache.Fulfill(ctx, page.URL, news.ListingRecordID, validators); err != nil {
			p.logger.Warn("cache fulfill failed", zap.String("url", page.URL), zap.Error(err))
		}
	case news.PageKindArticle:
		if err := p.store.Upsert(ctx, result.Record); err != nil {
			p.logger.Error("record upsert failed", zap.String("url", page.URL), zap.Error(err))
			p.release(ctx, page.URL)
			return
		}
		p.stats.stored.Add(1)
		if err := p.cache.Fulfill(ctx, page.URL, result.Record.ID, validators); err != nil {
			p.logger.Warn("cache fulfill failed", zap.String("url", page.URL), zap.Error(err))
		}
		p.announce(ctx, result.Record)
	}

	p.stats.parsed.Add(1)
	p.emit(progress.Event{Stage: progress.StageParseSuccess, URL: page.URL, Host: hostOf(page.URL)})
}

// announce publishes a stored-record notification when a publisher is
// configured. Failures are logged, never propagated.
func (p *Pipeline) announce(ctx context.Context, record news.NewsRecord) {
	if p.publisher == nil {
		return
	}
	payload := map[string]string{
		"record_id":    record.ID,
		"url":          record.URL,
		"category":     record.Category,
		"published_at": record.PublishedAt.Format(time.RFC3339),
	}
	if _, err := p.publisher.Publish(ctx, p.cfg.PublishTopic, payload); err != nil {
		p.logger.Warn("record publish failed", zap.String("record_id", record.ID), zap.Error(err))
	}
}

// release hands a provisional claim back. It must work on teardown
// paths where the run context is already cancelled.
func (p *Pipeline) release(ctx context.Context, url string) {
	if err := p.cache.Release(context.WithoutCancel(ctx), url); err != nil {
		p.logger.Warn("cache release failed", zap.String("url", url), zap.Error(err))
	}
}

func (p *Pipeline) emit(evt progress.Event) {
	if p.emitter == nil {
		return
	}
	evt.RunID = p.runID
	evt.TS = p.clock.Now()
	p.emitter.Emit(evt)
}

func (p *Pipeline) emitSummary(stats Stats) {
	if p.emitter == nil {
		return
	}
	p.emitter.Emit(progress.Event{
		RunID: p.runID,
		TS:    p.clock.Now(),
		Stage: progress.StageRunSummary,
		Dur:   stats.Elapsed,
		Summary: &progress.RunSummary{
			Result:      string(stats.State),
			Fetched:     stats.Fetched,
			Parsed:      stats.Parsed,
			CacheHits:   stats.CacheHits,
			FetchErrors: stats.FetchErrors,
			ParseErrors: stats.ParseErrors,
			Discovered:  stats.Discovered,
			Stored:      stats.Stored,
		},
	})
}

func (p *Pipeline) snapshot(state State, start time.Time) Stats {
	return Stats{
		RunID:       p.runID,
		State:       state,
		Fetched:     p.stats.fetched.Load(),
		Parsed:      p.stats.parsed.Load(),
		CacheHits:   p.stats.cacheHits.Load(),
		FetchErrors: p.stats.fetchErrors.Load(),
		ParseErrors: p.stats.parseErrors.Load(),
		Discovered:  p.stats.discovered.Load(),
		Stored:      p.stats.stored.Load(),
		Elapsed:     p.clock.Now().Sub(start),
	}
}

func parseWorkers(configured int) int {
	if configured > 0 {
		return configured
	}
	return runtime.GOMAXPROCS(0)
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}

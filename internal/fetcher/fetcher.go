// Package fetcher downloads pages with Colly, paced by a per-host
// limiter and classified into transient and permanent failures.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/solovyov/newswire/internal/news"
)

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// Delay is a fixed pause before every network attempt, on top of
	// the token-bucket limiter. Mirrors the source site's politeness
	// requirement.
	Delay time.Duration
}

// Fetcher implements news.Fetcher using the Colly collector.
type Fetcher struct {
	cfg           Config
	limiter       *HostLimiter
	clock         news.Clock
	transport     http.RoundTripper
	baseCollector *colly.Collector
}

// New builds a Fetcher. limiter may be nil to disable pacing.
func New(cfg Config, limiter *HostLimiter, clock news.Clock) *Fetcher {
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true

	transport := newHTTPTransport()
	c.WithTransport(transport)

	return &Fetcher{
		cfg:           cfg,
		limiter:       limiter,
		clock:         clock,
		transport:     transport,
		baseCollector: c,
	}
}

// Fetch executes a single HTTP GET. One call is one network attempt;
// the retry loop lives with the caller. Non-2xx statuses come back as
// *news.FetchError with the transient/permanent split already decided.
func (f *Fetcher) Fetch(ctx context.Context, ref news.ArticleRef) (news.RawPage, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, ref.URL); err != nil {
			return news.RawPage{}, err
		}
	}
	if f.cfg.Delay > 0 {
		select {
		case <-ctx.Done():
			return news.RawPage{}, ctx.Err()
		case <-time.After(f.cfg.Delay):
		}
	}

	var (
		page       news.RawPage
		fetchErr   error
		statusCode int
	)
	collector := f.buildCollector(ref, &page, &fetchErr, &statusCode)

	err := f.runCollector(ctx, collector, ref.URL)
	if err == nil && fetchErr != nil {
		err = fetchErr
	}
	if err != nil {
		// Colly surfaces every status >= 203 as an error; a 304 reply
		// to a conditional request is a success for us.
		if statusCode == http.StatusNotModified {
			return news.RawPage{
				URL:        ref.URL,
				Kind:       ref.Kind,
				StatusCode: statusCode,
				FetchedAt:  f.clock.Now(),
			}, nil
		}
		return news.RawPage{}, classify(ref.URL, statusCode, err)
	}
	return page, nil
}

func (f *Fetcher) buildCollector(
	ref news.ArticleRef,
	page *news.RawPage,
	fetchErr *error,
	statusCode *int,
) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.AllowURLRevisit = true
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	collector.WithTransport(f.transport)

	collector.OnRequest(func(r *colly.Request) {
		if ref.Validators.ETag != "" {
			r.Headers.Set("If-None-Match", ref.Validators.ETag)
		}
		if ref.Validators.LastModified != "" {
			r.Headers.Set("If-Modified-Since", ref.Validators.LastModified)
		}
	})

	collector.OnResponse(func(r *colly.Response) {
		*page = news.RawPage{
			URL:          ref.URL,
			Kind:         ref.Kind,
			StatusCode:   r.StatusCode,
			Body:         append([]byte(nil), r.Body...),
			ETag:         r.Headers.Get("ETag"),
			LastModified: r.Headers.Get("Last-Modified"),
			FetchedAt:    f.clock.Now(),
		}
	})

	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			*statusCode = r.StatusCode
		}
		*fetchErr = err
	})

	return collector
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil {
			return fmt.Errorf("visit: %w", err)
		}
		return nil
	}
}

// classify maps a failed attempt onto the fetch error taxonomy.
// Timeouts, connection failures and 5xx-grade statuses are transient;
// client errors like 404 are permanent. Context cancellation passes
// through untouched so callers can tell shutdown from failure.
func classify(url string, statusCode int, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	if statusCode > 0 {
		transient := statusCode >= 500 ||
			statusCode == http.StatusTooManyRequests ||
			statusCode == http.StatusRequestTimeout
		return &news.FetchError{URL: url, StatusCode: statusCode, Transient: transient, Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &news.FetchError{URL: url, Transient: true, Err: err}
	}

	// Transport-level failures without a status (reset, refused, DNS)
	// are worth another attempt.
	return &news.FetchError{URL: url, Transient: true, Err: err}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

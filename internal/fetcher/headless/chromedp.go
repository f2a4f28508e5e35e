// Package headless renders JavaScript-gated pages via chromedp.
package headless

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/solovyov/newswire/internal/news"
)

// Config controls the behavior of the headless renderer.
type Config struct {
	MaxParallel       int
	UserAgent         string
	NavigationTimeout time.Duration
}

// Renderer implements news.Fetcher with a real browser. It exists for
// the promotion path only: the static fetcher stays the default.
type Renderer struct {
	cfg         Config
	clock       news.Clock
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New creates a Renderer backed by a shared Chrome exec allocator.
func New(cfg Config, clock news.Clock) (*Renderer, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Renderer{
		cfg:         cfg,
		clock:       clock,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context.
func (r *Renderer) Close() {
	r.allocCancel()
}

// Fetch navigates with a headless browser and returns the rendered DOM.
func (r *Renderer) Fetch(ctx context.Context, ref news.ArticleRef) (news.RawPage, error) {
	if err := r.acquire(ctx); err != nil {
		return news.RawPage{}, err
	}
	defer r.release()

	taskCtx, taskCancel := chromedp.NewContext(r.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, r.navTimeout())
	defer cancel()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	html, err := r.runHeadless(taskCtx, ref.URL)
	if err != nil {
		return news.RawPage{}, &news.FetchError{URL: ref.URL, Transient: true, Err: err}
	}

	status, etag, lastModified := meta.snapshot()
	if status == 0 {
		status = http.StatusOK
	}

	return news.RawPage{
		URL:          ref.URL,
		Kind:         ref.Kind,
		StatusCode:   status,
		Body:         []byte(html),
		ETag:         etag,
		LastModified: lastModified,
		FetchedAt:    r.clock.Now(),
		UsedHeadless: true,
	}, nil
}

func (r *Renderer) runHeadless(ctx context.Context, url string) (string, error) {
	var html string
	actions := []chromedp.Action{
		r.networkSetupAction(),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		// Give client-side rendering a beat to populate the DOM.
		chromedp.Sleep(500 * time.Millisecond),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, nil
}

func (r *Renderer) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if r.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

func (r *Renderer) acquire(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	select {
	case r.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("headless slot wait canceled: %w", ctx.Err())
	}
}

func (r *Renderer) release() {
	if r.limiter == nil {
		return
	}
	select {
	case <-r.limiter:
	default:
	}
}

func (r *Renderer) navTimeout() time.Duration {
	if r.cfg.NavigationTimeout > 0 {
		return r.cfg.NavigationTimeout
	}
	return 45 * time.Second
}

// responseMeta captures the document response from CDP network events.
type responseMeta struct {
	mu           sync.RWMutex
	status       int
	etag         string
	lastModified string
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) captureEvent(ev any) {
	if resp, ok := ev.(*network.EventResponseReceived); ok {
		m.capture(resp)
	}
}

func (m *responseMeta) capture(event *network.EventResponseReceived) {
	if event.Type != network.ResourceTypeDocument || event.Response == nil {
		return
	}
	m.mu.Lock()
	m.status = int(event.Response.Status)
	m.etag = headerString(event.Response.Headers, "ETag")
	m.lastModified = headerString(event.Response.Headers, "Last-Modified")
	m.mu.Unlock()
}

func (m *responseMeta) snapshot() (int, string, string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status, m.etag, m.lastModified
}

// headerString flattens a CDP header value, which may arrive as a
// string or a list depending on the browser.
func headerString(headers network.Headers, key string) string {
	for k, value := range headers {
		if !equalFold(k, key) {
			continue
		}
		switch v := value.(type) {
		case string:
			return v
		case []string:
			if len(v) > 0 {
				return v[0]
			}
		case []interface{}:
			if len(v) > 0 {
				return fmt.Sprint(v[0])
			}
		default:
			return fmt.Sprint(v)
		}
	}
	return ""
}

func equalFold(a, b string) bool {
	return http.CanonicalHeaderKey(a) == http.CanonicalHeaderKey(b)
}

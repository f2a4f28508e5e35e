// Package queue coordinates the fetch and parse stages of a run.
package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/solovyov/newswire/internal/news"
)

// ErrClosed is returned by enqueue operations after the run has
// completed or was shut down.
var ErrClosed = errors.New("queue closed")

// Manager owns the two work streams of a pipeline run: refs waiting to
// be fetched and raw pages waiting to be parsed. It deduplicates URLs,
// applies backpressure from the parse stage onto the fetch stage, and
// detects when the run has drained.
//
// Only the parse stream is bounded. Fetch admission never blocks, so a
// parse worker reporting discoveries cannot wedge against fetch workers
// paused by the high-water gate.
//
// Every ref admitted by EnqueueFetch must eventually be handed back via
// Done exactly once, whatever happened to it (parsed, cache hit, fetch
// failure). A worker that discovers new refs must enqueue them before
// calling Done on the URL that produced them, otherwise the run can
// complete early.
type Manager struct {
	parseCh   chan news.RawPage
	highWater int

	mu      sync.Mutex
	seen    map[string]struct{}
	fetchQ  []news.ArticleRef
	pending int
	backlog int
	sealed  bool
	closed  bool

	// wake is closed and replaced whenever a ref arrives or the parse
	// backlog drops below the high-water mark; done closes once when
	// the run finishes.
	wake chan struct{}
	done chan struct{}
}

// NewManager constructs a Manager. depth bounds the parse stream;
// highWater is the parse backlog at which fetch dequeues pause.
func NewManager(depth int, highWater int) *Manager {
	if depth <= 0 {
		depth = 1024
	}
	if highWater <= 0 || highWater > depth {
		highWater = depth
	}
	return &Manager{
		parseCh:   make(chan news.RawPage, depth),
		highWater: highWater,
		seen:      make(map[string]struct{}),
		wake:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// EnqueueFetch admits a ref for fetching without blocking. It reports
// false without error when the URL was already admitted during this
// run.
func (m *Manager) EnqueueFetch(ctx context.Context, ref news.ArticleRef) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false, ErrClosed
	}
	if _, dup := m.seen[ref.URL]; dup {
		return false, nil
	}
	m.seen[ref.URL] = struct{}{}
	m.pending++
	m.fetchQ = append(m.fetchQ, ref)
	m.broadcastLocked()
	return true, nil
}

// EnqueueParse hands a fetched page to the parse stage.
func (m *Manager) EnqueueParse(ctx context.Context, page news.RawPage) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.backlog++
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		m.shrinkBacklog()
		return ctx.Err()
	case <-m.done:
		m.shrinkBacklog()
		return ErrClosed
	case m.parseCh <- page:
		return nil
	}
}

// DequeueFetch blocks until a ref is available, the run ends, or the
// context is canceled. While the parse backlog sits at or above the
// high-water mark it holds off entirely, so fetch workers stop pulling
// new work instead of piling up raw pages.
func (m *Manager) DequeueFetch(ctx context.Context) (news.ArticleRef, bool) {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return news.ArticleRef{}, false
		}
		if m.backlog < m.highWater && len(m.fetchQ) > 0 {
			ref := m.fetchQ[0]
			m.fetchQ = m.fetchQ[1:]
			m.mu.Unlock()
			return ref, true
		}
		wake := m.wake
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return news.ArticleRef{}, false
		case <-m.done:
			return news.ArticleRef{}, false
		case <-wake:
		}
	}
}

// DequeueParse blocks until a page is available, the run ends, or the
// context is canceled.
func (m *Manager) DequeueParse(ctx context.Context) (news.RawPage, bool) {
	select {
	case <-ctx.Done():
		return news.RawPage{}, false
	case <-m.done:
		return news.RawPage{}, false
	case page := <-m.parseCh:
		m.shrinkBacklog()
		return page, true
	}
}

// DrainParse empties the parse stream and returns the stranded pages so
// the caller can abandon them cleanly. Call it only after Close once
// the workers have stopped.
func (m *Manager) DrainParse() []news.RawPage {
	var pages []news.RawPage
	for {
		select {
		case page := <-m.parseCh:
			m.shrinkBacklog()
			pages = append(pages, page)
		default:
			return pages
		}
	}
}

// Done marks one admitted URL finished. The final Done after Seal
// completes the run.
func (m *Manager) Done(url string) {
	m.mu.Lock()
	if m.pending > 0 {
		m.pending--
	}
	complete := m.sealed && m.pending == 0 && !m.closed
	if complete {
		m.closed = true
	}
	m.mu.Unlock()
	if complete {
		close(m.done)
	}
}

// Seal declares seeding finished: once every admitted URL is Done the
// run completes. Sealing an empty manager completes it immediately.
func (m *Manager) Seal() {
	m.mu.Lock()
	m.sealed = true
	complete := m.pending == 0 && !m.closed
	if complete {
		m.closed = true
	}
	m.mu.Unlock()
	if complete {
		close(m.done)
	}
}

// Close shuts the manager down regardless of outstanding work. Blocked
// workers return immediately with ok=false.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()
	close(m.done)
}

// Wait blocks until the run drains or the context is canceled.
func (m *Manager) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return nil
	}
}

// Pending reports how many admitted URLs have not been Done yet.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}

// ParseBacklog reports how many raw pages await parsing.
func (m *Manager) ParseBacklog() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.backlog
}

// broadcastLocked wakes every fetch worker waiting for state to change.
// Each woken worker re-evaluates under the lock, so a stale wakeup is
// harmless. Callers must hold mu.
func (m *Manager) broadcastLocked() {
	close(m.wake)
	m.wake = make(chan struct{})
}

func (m *Manager) shrinkBacklog() {
	m.mu.Lock()
	if m.backlog > 0 {
		m.backlog--
	}
	if m.backlog < m.highWater {
		m.broadcastLocked()
	}
	m.mu.Unlock()
}

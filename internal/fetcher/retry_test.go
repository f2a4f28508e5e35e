package fetcher

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/solovyov/newswire/internal/news"
)

func transientErr() error {
	return &news.FetchError{URL: "https://example.org/", StatusCode: 503, Transient: true}
}

func TestBackoffDoublesAndCaps(t *testing.T) {
	t.Parallel()
	p := Policy{MaxAttempts: 10, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}

	// Jitter randomizes within [half, full); the midpoints still double.
	for attempt, ceiling := range []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second, // capped
		time.Second,
	} {
		got := p.Backoff(attempt)
		require.GreaterOrEqual(t, got, ceiling/2, "attempt %d", attempt)
		require.Less(t, got, ceiling+time.Millisecond, "attempt %d", attempt)
	}
}

func TestBackoffGrowsBetweenAttempts(t *testing.T) {
	t.Parallel()
	p := Policy{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Minute}

	// The minimum of attempt n+2 exceeds the maximum of attempt n, so
	// delays increase regardless of jitter.
	require.Greater(t, p.Backoff(2), p.Backoff(0))
	require.Greater(t, p.Backoff(4), p.Backoff(2))
}

func TestScheduleStopsAfterBudget(t *testing.T) {
	t.Parallel()
	sched := NewSchedule(Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Second})

	delay, retry := sched.Record(transientErr())
	require.True(t, retry)
	require.Positive(t, delay)

	_, retry = sched.Record(transientErr())
	require.True(t, retry)

	// Third failure exhausts the budget.
	_, retry = sched.Record(transientErr())
	require.False(t, retry)
	require.Equal(t, 3, sched.Attempts())
}

func TestScheduleStopsOnPermanentError(t *testing.T) {
	t.Parallel()
	sched := NewSchedule(DefaultPolicy())

	_, retry := sched.Record(&news.FetchError{URL: "https://example.org/", StatusCode: 404})
	require.False(t, retry)

	sched = NewSchedule(DefaultPolicy())
	_, retry = sched.Record(errors.New("not a fetch error"))
	require.False(t, retry)
}

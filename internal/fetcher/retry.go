package fetcher

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"

	"github.com/solovyov/newswire/internal/news"
)

// Policy decides how transient fetch failures are retried.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy matches the configured scraper defaults.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   250 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// Backoff returns the jittered wait before attempt n (zero-based):
// half of the doubled-and-capped delay plus a random share of the
// other half.
func (p Policy) Backoff(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// Schedule is the retry state carried by one fetch task: how many
// attempts it has burned and what the next failure means. Keeping it a
// value owned by the task makes the retry decision testable without a
// worker loop around it.
type Schedule struct {
	policy   Policy
	attempts int
}

// NewSchedule starts a fresh schedule under p.
func NewSchedule(p Policy) Schedule {
	return Schedule{policy: p}
}

// Attempts reports how many attempts have been recorded.
func (s Schedule) Attempts() int { return s.attempts }

// Record consumes one failed attempt. It returns the wait before the
// next attempt and whether one is allowed: permanent errors and
// exhausted budgets both stop the task.
func (s *Schedule) Record(err error) (time.Duration, bool) {
	attempt := s.attempts
	s.attempts++

	if !news.TransientFetch(err) {
		return 0, false
	}
	if s.attempts >= s.policy.MaxAttempts {
		return 0, false
	}
	return s.policy.Backoff(attempt), true
}

// Package system provides a real clock implementation.
package system

import "time"

// Clock implements news.Clock using time.Now.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC. Cache TTLs and record
// timestamps all flow through here so tests can substitute a fake.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

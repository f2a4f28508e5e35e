// Package progress defines the event structures emitted by the
// pipeline workers.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageFetchAttempt Stage = "fetch_attempt"
	StageFetchSuccess Stage = "fetch_success"
	StageFetchFailure Stage = "fetch_failure"
	StageParseSuccess Stage = "parse_success"
	StageParseFailure Stage = "parse_failure"
	StageCacheHit     Stage = "cache_hit"
	StageRunSummary   Stage = "run_summary"
)

// StatusClass is a coarse HTTP response grouping.
type StatusClass string

// Supported HTTP status classes tracked for fetch completions.
const (
	Status2xx   StatusClass = "2xx"
	Status3xx   StatusClass = "3xx"
	Status4xx   StatusClass = "4xx"
	Status5xx   StatusClass = "5xx"
	StatusOther StatusClass = "other"
)

// Event captures a single milestone of a pipeline run. Per-URL events
// carry the URL and host; the run_summary event carries the final
// counters instead.
type Event struct {
	// RunID identifies the pipeline run the event belongs to.
	RunID uuid.UUID
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which milestone occurred.
	Stage Stage
	// Host scopes per-URL events to the origin being scraped.
	Host string
	// URL is the page the event concerns; empty for run_summary.
	URL string
	// Attempt is the 1-based fetch attempt number for fetch stages.
	Attempt int
	// StatusClass groups HTTP response codes for fetch completions.
	StatusClass StatusClass
	// Bytes carries the downloaded body size for fetch successes.
	Bytes int64
	// Dur captures fetch latency, or total run time for run_summary.
	Dur time.Duration
	// Note attaches low-volume context such as error text or the parse
	// failure reason.
	Note string
	// Summary holds the run counters; set only for run_summary.
	Summary *RunSummary
}

// RunSummary is the counter block attached to a run_summary event.
type RunSummary struct {
	Result      string
	Fetched     int64
	Parsed      int64
	CacheHits   int64
	FetchErrors int64
	ParseErrors int64
	Discovered  int64
	Stored      int64
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == uuid.Nil {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageFetchAttempt, StageFetchFailure, StageCacheHit,
		StageParseSuccess, StageParseFailure:
		if e.URL == "" {
			return fmt.Errorf("%s requires url", e.Stage)
		}
	case StageFetchSuccess:
		if e.URL == "" {
			return errors.New("fetch success requires url")
		}
		if e.StatusClass == "" {
			return errors.New("fetch success requires status class")
		}
	case StageRunSummary:
		if e.Summary == nil {
			return errors.New("run summary requires counters")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// ClassifyStatus groups HTTP status codes for fetch events.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 200 && code < 300:
		return Status2xx
	case code >= 300 && code < 400:
		return Status3xx
	case code >= 400 && code < 500:
		return Status4xx
	case code >= 500 && code < 600:
		return Status5xx
	default:
		return StatusOther
	}
}

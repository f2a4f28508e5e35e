package news

import (
	"errors"
	"fmt"
)

// Sentinel errors for unavailable collaborators. A run refuses to start
// when either surfaces from the initial connectivity probe.
var (
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrCacheUnavailable   = errors.New("cache unavailable")
)

// FetchError describes a failed download. Transient failures are
// eligible for retry; permanent ones are recorded and skipped.
type FetchError struct {
	URL        string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *FetchError) Error() string {
	class := "permanent"
	if e.Transient {
		class = "transient"
	}
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, class, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s: status %d", e.URL, class, e.StatusCode)
}

func (e *FetchError) Unwrap() error { return e.Err }

// TransientFetch classifies err as a retryable fetch failure.
func TransientFetch(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Transient
}

// ParseReason distinguishes the ways a parse can fail.
type ParseReason string

// Parse failure reasons.
const (
	// ParseSchemaMismatch means the expected page structure was absent.
	ParseSchemaMismatch ParseReason = "schema_mismatch"
	// ParseMalformedEncoding means the body was not valid UTF-8.
	ParseMalformedEncoding ParseReason = "malformed_encoding"
)

// ParseError describes a page the parser could not turn into records
// or refs. It names the URL so failures are traceable per page.
type ParseError struct {
	URL    string
	Reason ParseReason
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse %s: %s: %v", e.URL, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse %s: %s", e.URL, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseFailure extracts the reason when err is a ParseError.
func ParseFailure(err error) (ParseReason, bool) {
	var pe *ParseError
	if errors.As(err, &pe) {
		return pe.Reason, true
	}
	return "", false
}

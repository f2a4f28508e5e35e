// Package detector decides when a static fetch needs a browser rerun.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/solovyov/newswire/internal/news"
)

// Heuristic implements a handful of rule-based promotions.
type Heuristic struct {
	MinBodyBytes int
}

// NewHeuristic creates a detector. threshold 0 picks a default.
func NewHeuristic(threshold int) *Heuristic {
	if threshold == 0 {
		threshold = 2048
	}
	return &Heuristic{MinBodyBytes: threshold}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
}

// ShouldPromote reports whether the static response looks like a shell
// that only renders under JavaScript: an empty body, a short and
// script-heavy one, or known SPA mount points.
func (h *Heuristic) ShouldPromote(page news.RawPage) bool {
	if page.StatusCode != http.StatusOK {
		return false
	}
	body := page.Body
	if len(body) == 0 {
		return true
	}
	if len(body) < h.MinBodyBytes && scriptDensityHigh(body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// scriptDensityHigh reports whether script tags cover at least a
// quarter of the document.
func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	coverage := 0
	pos := 0

	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			coverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relEnd := strings.Index(lower[contentStart:], closeTag)
		var next int
		if relEnd == -1 {
			next = total
		} else {
			next = contentStart + relEnd + len(closeTag)
		}

		coverage += next - start
		pos = next
	}

	if coverage == 0 {
		return false
	}
	return coverage*100/total >= 25
}

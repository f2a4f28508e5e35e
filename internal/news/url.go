package news

import (
	"fmt"
	"net/url"
	"strings"
)

// Canonicalize standardizes a URL so the same page always carries the
// same key. It lowercases the scheme and host, removes default ports
// and fragments, and sorts query parameters.
func Canonicalize(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing host in %q", rawURL)
	}

	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""

	// Encode round-trips the query with keys sorted.
	u.RawQuery = u.Query().Encode()

	return u.String(), nil
}

// Resolve canonicalizes a possibly relative href against the page it
// was discovered on. Listing pages link articles by path only.
func Resolve(base string, href string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	h, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("parse href: %w", err)
	}
	return Canonicalize(b.ResolveReference(h).String())
}

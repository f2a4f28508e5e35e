// Package archive persists raw page bodies before parsing, so a layout
// change can be replayed against stored HTML instead of refetched.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"path"

	"github.com/solovyov/newswire/internal/news"
)

// Archiver writes raw pages to a blob store under content-hash keys.
// Archival is best-effort: the pipeline logs failures and parses the
// page regardless.
type Archiver struct {
	store       news.BlobStore
	prefix      string
	contentType string
}

// New constructs an Archiver. prefix namespaces objects inside the
// store, e.g. "pages".
func New(store news.BlobStore, prefix string, contentType string) *Archiver {
	if contentType == "" {
		contentType = "text/html; charset=utf-8"
	}
	return &Archiver{store: store, prefix: prefix, contentType: contentType}
}

// Archive stores the page body and returns the blob URI. The object
// path is prefix/host/sha256.html, so identical bodies dedupe
// naturally inside the store.
func (a *Archiver) Archive(ctx context.Context, page news.RawPage) (string, error) {
	if len(page.Body) == 0 {
		return "", fmt.Errorf("empty body for %s", page.URL)
	}
	sum := sha256.Sum256(page.Body)
	objectPath := path.Join(a.prefix, hostOf(page.URL), hex.EncodeToString(sum[:])+".html")

	uri, err := a.store.PutObject(ctx, objectPath, a.contentType, page.Body)
	if err != nil {
		return "", fmt.Errorf("archive %s: %w", page.URL, err)
	}
	return uri, nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}

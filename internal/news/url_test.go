package news

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanonicalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases scheme and host", "HTTPS://News.Example.EDU/news/stories/", "https://news.example.edu/news/stories/"},
		{"strips default https port", "https://news.example.edu:443/news/", "https://news.example.edu/news/"},
		{"strips default http port", "http://news.example.edu:80/news/", "http://news.example.edu/news/"},
		{"keeps explicit port", "https://news.example.edu:8443/news/", "https://news.example.edu:8443/news/"},
		{"drops fragment", "https://news.example.edu/news/story-1/#comments", "https://news.example.edu/news/story-1/"},
		{"sorts query parameters", "https://news.example.edu/news/?b=2&a=1", "https://news.example.edu/news/?a=1&b=2"},
		{"trims surrounding whitespace", "  https://news.example.edu/news/ ", "https://news.example.edu/news/"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := Canonicalize(tc.in)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}

	t.Run("same page, same key", func(t *testing.T) {
		t.Parallel()
		a, err := Canonicalize("https://news.example.edu/news/?page=2&cat=science#top")
		require.NoError(t, err)
		b, err := Canonicalize("HTTPS://NEWS.EXAMPLE.EDU:443/news/?cat=science&page=2")
		require.NoError(t, err)
		require.Equal(t, a, b)
	})

	t.Run("rejects non-http schemes", func(t *testing.T) {
		t.Parallel()
		_, err := Canonicalize("mailto:press@example.edu")
		require.Error(t, err)
	})

	t.Run("rejects missing host", func(t *testing.T) {
		t.Parallel()
		_, err := Canonicalize("/news/stories/")
		require.Error(t, err)
	})
}

func TestResolve(t *testing.T) {
	t.Parallel()

	t.Run("relative href against listing page", func(t *testing.T) {
		t.Parallel()
		got, err := Resolve("https://news.example.edu/news/stories/", "/news/story-42/")
		require.NoError(t, err)
		require.Equal(t, "https://news.example.edu/news/story-42/", got)
	})

	t.Run("absolute href passes through canonicalized", func(t *testing.T) {
		t.Parallel()
		got, err := Resolve("https://news.example.edu/news/", "HTTPS://news.example.edu/news/story-7/")
		require.NoError(t, err)
		require.Equal(t, "https://news.example.edu/news/story-7/", got)
	})

	t.Run("query-only href keeps the page path", func(t *testing.T) {
		t.Parallel()
		got, err := Resolve("https://news.example.edu/news/stories/", "?PAGEN_1=2")
		require.NoError(t, err)
		require.Equal(t, "https://news.example.edu/news/stories/?PAGEN_1=2", got)
	})
}

func TestRecordID(t *testing.T) {
	t.Parallel()

	t.Run("deterministic across calls", func(t *testing.T) {
		t.Parallel()
		url := "https://news.example.edu/news/story-42/"
		require.Equal(t, RecordID(url), RecordID(url))
	})

	t.Run("hex sha256 of the url", func(t *testing.T) {
		t.Parallel()
		id := RecordID("https://news.example.edu/news/story-42/")
		require.Len(t, id, 64)
		require.NotEqual(t, id, RecordID("https://news.example.edu/news/story-43/"))
	})
}

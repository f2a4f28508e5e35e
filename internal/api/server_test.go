package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	cachemem "github.com/solovyov/newswire/internal/cache/memory"
	"github.com/solovyov/newswire/internal/clock/system"
	"github.com/solovyov/newswire/internal/config"
	"github.com/solovyov/newswire/internal/fetcher"
	"github.com/solovyov/newswire/internal/news"
	"github.com/solovyov/newswire/internal/pipeline"
	storemem "github.com/solovyov/newswire/internal/storage/memory"
)

type noFetcher struct{}

func (noFetcher) Fetch(_ context.Context, ref news.ArticleRef) (news.RawPage, error) {
	return news.RawPage{}, &news.FetchError{URL: ref.URL, StatusCode: 404}
}

func testSupervisor(store news.Store) *pipeline.Supervisor {
	return pipeline.NewSupervisor(context.Background(), func() (*pipeline.Pipeline, error) {
		// No seeds: the run drains immediately.
		return pipeline.New(pipeline.Config{
			FetchConcurrency: 1,
			ParseWorkers:     1,
			QueueDepth:       4,
			ParseHighWater:   2,
			Retry:            fetcher.DefaultPolicy(),
		}, noFetcher{}, nil, cachemem.New(system.New(), time.Hour, time.Hour), store, system.New(), zap.NewNop()), nil
	}, zap.NewNop())
}

func seedStore(t *testing.T) *storemem.RecordStore {
	t.Helper()
	store := storemem.NewRecordStore()
	records := []news.NewsRecord{
		{
			ID:          news.RecordID("https://news.example.org/a/"),
			Title:       "Открытие лаборатории",
			Category:    "Наука",
			PublishedAt: time.Date(2025, time.May, 10, 0, 0, 0, 0, time.UTC),
			Body:        "текст",
			URL:         "https://news.example.org/a/",
			ScrapedAt:   time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			ID:          news.RecordID("https://news.example.org/b/"),
			Title:       "Спортивный фестиваль",
			Category:    "Спорт",
			PublishedAt: time.Date(2025, time.May, 20, 0, 0, 0, 0, time.UTC),
			Body:        "текст",
			URL:         "https://news.example.org/b/",
			ScrapedAt:   time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC),
		},
	}
	for _, rec := range records {
		require.NoError(t, store.Upsert(context.Background(), rec))
	}
	return store
}

func newTestServer(t *testing.T, cfg config.APIConfig, probes ...Probe) (*Server, *storemem.RecordStore, *pipeline.Supervisor) {
	t.Helper()
	store := seedStore(t)
	sup := testSupervisor(store)
	return NewServer(store, sup, prometheus.NewRegistry(), zap.NewNop(), cfg, probes...), store, sup
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()
	server, _, _ := newTestServer(t, config.APIConfig{})

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_ReadyzReportsProbeFailures(t *testing.T) {
	t.Parallel()
	server, _, _ := newTestServer(t, config.APIConfig{},
		Probe{Name: "storage", Check: func(context.Context) error { return nil }},
		Probe{Name: "cache", Check: func(context.Context) error { return errors.New("connection refused") }},
	)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "not ready", body.Status)
	require.Equal(t, "ok", body.Checks["storage"])
	require.Contains(t, body.Checks["cache"], "connection refused")
}

func TestServer_ListRecordsFiltersByCategory(t *testing.T) {
	t.Parallel()
	server, _, _ := newTestServer(t, config.APIConfig{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/records?category=Наука", nil)
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Records []news.NewsRecord `json:"records"`
		Total   int               `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Total)
	require.Len(t, body.Records, 1)
	require.Equal(t, "Открытие лаборатории", body.Records[0].Title)
}

func TestServer_ListRecordsDateRange(t *testing.T) {
	t.Parallel()
	server, _, _ := newTestServer(t, config.APIConfig{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/records?from=2025-05-15&to=2025-05-25", nil)
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Records []news.NewsRecord `json:"records"`
		Total   int               `json:"total"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 1, body.Total)
	require.Equal(t, "Спортивный фестиваль", body.Records[0].Title)
}

func TestServer_ListRecordsRejectsBadDate(t *testing.T) {
	t.Parallel()
	server, _, _ := newTestServer(t, config.APIConfig{})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/records?from=15.05.2025", nil)
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "YYYY-MM-DD")
}

func TestServer_RunLifecycle(t *testing.T) {
	t.Parallel()
	server, _, sup := newTestServer(t, config.APIConfig{})

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/runs/", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var started struct {
		RunID string `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	require.NotEmpty(t, started.RunID)

	sup.Wait()

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/"+started.RunID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var info pipeline.RunInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	require.Equal(t, pipeline.StateCompleted, info.State)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), started.RunID)
}

func TestServer_GetUnknownRun(t *testing.T) {
	t.Parallel()
	server, _, _ := newTestServer(t, config.APIConfig{})

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/runs/no-such-run", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_APIKeyGuardsV1Routes(t *testing.T) {
	t.Parallel()
	server, _, _ := newTestServer(t, config.APIConfig{AuthEnabled: true, APIKey: "sekret"})

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/records", nil))
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/records", nil)
	req.Header.Set("X-API-Key", "sekret")
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	// Health stays open for probes.
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_MetricsServesRegistry(t *testing.T) {
	t.Parallel()
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "newswire_test_total"})
	registry.MustRegister(counter)
	counter.Inc()

	store := seedStore(t)
	server := NewServer(store, testSupervisor(store), registry, zap.NewNop(), config.APIConfig{})

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "newswire_test_total 1")
}

func TestServer_RequestIDHeader(t *testing.T) {
	t.Parallel()
	server, _, _ := newTestServer(t, config.APIConfig{})

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_ConcurrentRunRejected(t *testing.T) {
	t.Parallel()
	store := seedStore(t)

	block := make(chan struct{})
	started := make(chan struct{})
	sup := pipeline.NewSupervisor(context.Background(), func() (*pipeline.Pipeline, error) {
		return pipeline.New(pipeline.Config{
			Seeds:            []string{"https://news.example.org/news/stories/"},
			FetchConcurrency: 1,
			ParseWorkers:     1,
			QueueDepth:       4,
			ParseHighWater:   2,
			Retry:            fetcher.DefaultPolicy(),
		}, blockingFetcher{started: started, gate: block}, nil,
			cachemem.New(system.New(), time.Hour, time.Hour), store, system.New(), zap.NewNop()), nil
	}, zap.NewNop())
	server := NewServer(store, sup, prometheus.NewRegistry(), zap.NewNop(), config.APIConfig{})

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/runs/", nil))
	require.Equal(t, http.StatusAccepted, rec.Code)
	<-started

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/runs/", nil))
	require.Equal(t, http.StatusConflict, rec.Code)

	close(block)
	sup.Wait()
}

type blockingFetcher struct {
	started chan struct{}
	gate    <-chan struct{}
}

func (f blockingFetcher) Fetch(ctx context.Context, ref news.ArticleRef) (news.RawPage, error) {
	close(f.started)
	select {
	case <-f.gate:
	case <-ctx.Done():
	}
	return news.RawPage{}, &news.FetchError{URL: ref.URL, StatusCode: 404}
}

package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/solovyov/newswire/internal/progress"
)

// PrometheusSink exports pipeline progress metrics. It owns all
// collectors for fetch/parse outcomes, cache hits, and run summaries.
type PrometheusSink struct {
	fetchAttempts *prometheus.CounterVec
	fetches       *prometheus.CounterVec
	fetchBytes    *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec

	parses    *prometheus.CounterVec
	cacheHits prometheus.Counter

	runs        *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	runStored   prometheus.Counter
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		fetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newswire_fetch_attempts_total",
			Help: "Network fetch attempts partitioned by host.",
		}, []string{"host"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newswire_fetches_total",
			Help: "Fetch completions partitioned by host and result.",
		}, []string{"host", "result"}),
		fetchBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newswire_fetch_bytes_total",
			Help: "Bytes downloaded per host.",
		}, []string{"host"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "newswire_fetch_duration_seconds",
			Help:    "Fetch duration partitioned by host and status class.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"host", "status_class"}),
		parses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newswire_parses_total",
			Help: "Parse completions partitioned by result.",
		}, []string{"result"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newswire_cache_hits_total",
			Help: "URLs skipped because a fresh cache entry existed.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newswire_runs_total",
			Help: "Pipeline runs partitioned by result.",
		}, []string{"result"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "newswire_run_duration_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		runStored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "newswire_records_stored_total",
			Help: "News records upserted into storage across runs.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.fetchAttempts,
		s.fetches,
		s.fetchBytes,
		s.fetchDuration,
		s.parses,
		s.cacheHits,
		s.runs,
		s.runDuration,
		s.runStored,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch.
// It is safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	host := evt.Host
	if host == "" {
		host = "unknown"
	}
	switch evt.Stage {
	case progress.StageFetchAttempt:
		s.fetchAttempts.WithLabelValues(host).Inc()
	case progress.StageFetchSuccess:
		s.fetches.WithLabelValues(host, "success").Inc()
		if evt.Bytes > 0 {
			s.fetchBytes.WithLabelValues(host).Add(float64(evt.Bytes))
		}
		if evt.Dur > 0 {
			s.fetchDuration.WithLabelValues(host, s.statusClass(evt)).Observe(evt.Dur.Seconds())
		}
	case progress.StageFetchFailure:
		s.fetches.WithLabelValues(host, "failure").Inc()
	case progress.StageParseSuccess:
		s.parses.WithLabelValues("success").Inc()
	case progress.StageParseFailure:
		s.parses.WithLabelValues("failure").Inc()
	case progress.StageCacheHit:
		s.cacheHits.Inc()
	case progress.StageRunSummary:
		s.consumeSummary(evt)
	}
}

func (s *PrometheusSink) consumeSummary(evt progress.Event) {
	if evt.Summary == nil {
		return
	}
	result := evt.Summary.Result
	if result == "" {
		result = "unknown"
	}
	s.runs.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.runDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if evt.Summary.Stored > 0 {
		s.runStored.Add(float64(evt.Summary.Stored))
	}
}

func (s *PrometheusSink) statusClass(evt progress.Event) string {
	if evt.StatusClass == "" {
		return string(progress.StatusOther)
	}
	return string(evt.StatusClass)
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

// Package main hosts the scraper service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, record queries,
//     and run control. POST /v1/runs hands off to the pipeline Supervisor,
//     which serializes runs and retains their outcomes for inspection.
//   - Pipeline: each run seeds the work queue with the configured listing
//     URLs, then drains it through a fetch pool (Colly, with optional
//     promotion to headless Chromedp rendering) and a parse pool (goquery).
//     The queue deduplicates URLs per run and applies backpressure to
//     fetching when the parse backlog crosses its high-water mark.
//   - Cache: a claim-based scrape cache (memory or SQLite) guarantees each
//     URL is fetched at most once per TTL window and at most one worker
//     holds a URL at a time. Expired entries keep their validators so
//     refreshes can revalidate with conditional requests.
//   - Persistence & fanout: parsed records are upserted into the record
//     store (memory or Postgres) keyed by a URL-derived ID, so re-scrapes
//     overwrite in place. Raw pages can be archived to a blob store
//     (memory/fs/GCS) and stored-record notifications published to Pub/Sub.
//   - Observability: progress events are batched through a non-blocking Hub
//     into a zap log sink and a Prometheus sink served at /metrics.
//
// Run locally: go run ./cmd/scraper -config config.yaml, or rely on
// NEWSWIRE_* env overrides. Pass -once to execute a single scrape run and
// exit instead of serving the admin API.
package main

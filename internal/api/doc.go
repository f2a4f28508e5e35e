// Package api hosts the admin HTTP server, middleware, and REST
// handlers. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/records for filtered record queries.
//   - POST /v1/runs and GET /v1/runs/{run_id} for scrape-run control.
package api

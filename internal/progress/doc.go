// Package progress provides the event primitives, non-blocking hub, and
// emitter interfaces the pipeline uses to report scrape progress. It
// batches events on a background goroutine and fans them out to
// pluggable sinks such as Prometheus metrics or structured logs.
// Delivery is best-effort: a slow sink never stalls the pipeline.
package progress

package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/solovyov/newswire/internal/progress"
)

// LogSink emits structured logs for debugging progress streams. It is
// useful during development or audits where metrics alone are too thin.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID.String()),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL))
		}
		if evt.Host != "" {
			fields = append(fields, zap.String("host", evt.Host))
		}
		if evt.Attempt > 0 {
			fields = append(fields, zap.Int("attempt", evt.Attempt))
		}
		if evt.StatusClass != "" {
			fields = append(fields, zap.String("status_class", string(evt.StatusClass)))
		}
		if evt.Bytes > 0 {
			fields = append(fields, zap.Int64("bytes", evt.Bytes))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if evt.Summary != nil {
			fields = append(fields,
				zap.String("result", evt.Summary.Result),
				zap.Int64("fetched", evt.Summary.Fetched),
				zap.Int64("parsed", evt.Summary.Parsed),
				zap.Int64("cache_hits", evt.Summary.CacheHits),
				zap.Int64("fetch_errors", evt.Summary.FetchErrors),
				zap.Int64("parse_errors", evt.Summary.ParseErrors),
				zap.Int64("discovered", evt.Summary.Discovered),
				zap.Int64("stored", evt.Summary.Stored),
			)
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}

package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/lexindo/harvester/internal/progress"
)

// LogSink emits structured logs for the progress stream. It stands in for a
// durable sink during development and doubles as the run's activity log.
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
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.Int("worker", evt.Worker),
			zap.Int("page", evt.Page),
			zap.Int("items", evt.Items),
			zap.Duration("dur", evt.Dur),
		}
		if evt.Retry > 0 {
			fields = append(fields, zap.Int("retry", evt.Retry))
		}
		if evt.Degraded {
			fields = append(fields, zap.Bool("degraded", true))
		}
		if evt.Category != "" {
			fields = append(fields, zap.String("category", evt.Category))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}

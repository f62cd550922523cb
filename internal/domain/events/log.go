package events

import (
	"context"

	"github.com/okian/marksheet/pkg/logger"
)

// LogSink writes events as structured log lines. The event name is the
// message and the channel is a field.
type LogSink struct {
	log logger.Logger
}

// NewLogSink creates a Sink backed by l. The source field of each line
// points at the code that emitted the event.
func NewLogSink(l logger.Logger) *LogSink {
	return &LogSink{log: logger.WithCallerSkip(l, 1)}
}

// Emit logs e at its severity.
func (s *LogSink) Emit(ctx context.Context, e Event) {
	fields := make([]logger.Field, 0, len(e.Fields)+1)
	fields = append(fields, logger.String("channel", e.Channel))
	for _, f := range e.Fields {
		fields = append(fields, logger.Any(f.Key, f.Value))
	}
	switch e.Severity {
	case SeverityError:
		s.log.Error(ctx, e.Name, fields...)
	case SeverityWarn:
		s.log.Warn(ctx, e.Name, fields...)
	default:
		s.log.Info(ctx, e.Name, fields...)
	}
}

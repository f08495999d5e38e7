package events

import (
	"context"
	"log/slog"
)

// LogPublisher writes events to the log. The server falls back to it when no
// broker is configured so local runs still show what would be emitted.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, topic string, payload any) error {
	attrs := []any{"topic", topic, "payload", payload}
	if k, ok := payload.(keyed); ok {
		attrs = append(attrs, "key", k.EventKey())
	}
	p.logger.InfoContext(ctx, "credit event", attrs...)
	return nil
}

// Package eventbus publishes domain events to subscribers outside the process.
package eventbus

import (
	"context"
	"log/slog"
)

// Publisher sends a serialized event under a routing key.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload []byte) error
	Close() error
}

// LogPublisher only logs events. It backs local mode where no broker runs.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher creates a publisher that logs at debug level.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, routingKey string, payload []byte) error {
	p.logger.DebugContext(ctx, "event published", "routing_key", routingKey, "size", len(payload))
	return nil
}

func (p *LogPublisher) Close() error { return nil }

// Package messaging provides the pub/sub publishers the session outbox
// drains into after commit.
package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
)

// Publisher is the outbound side of the message bus. Implementations
// must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// NewPublisher builds the publisher for a broker URL. The scheme picks
// the backend: redis:// or rediss:// for redis pub/sub, amqp:// or
// amqps:// for RabbitMQ, mem:// for the in-process bus. The returned
// close function releases the broker connection.
func NewPublisher(brokerURL string, logger *slog.Logger) (Publisher, func() error, error) {
	parsed, err := url.Parse(brokerURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse broker url: %w", err)
	}
	switch parsed.Scheme {
	case "redis", "rediss":
		pub, err := NewRedisPublisher(brokerURL, logger)
		if err != nil {
			return nil, nil, err
		}
		return pub, pub.Close, nil
	case "amqp", "amqps":
		pub, err := NewAMQPPublisher(brokerURL, logger)
		if err != nil {
			return nil, nil, err
		}
		return pub, pub.Close, nil
	case "mem":
		bus := NewMemoryBus(logger)
		return bus, func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported broker scheme %q", parsed.Scheme)
	}
}

func resolveLogger(logger *slog.Logger) *slog.Logger {
	if logger != nil {
		return logger
	}
	return slog.Default()
}

package messaging

import (
	"context"
	"log/slog"
	"sync"
)

// Delivery is one message fanned out to a memory bus subscriber.
type Delivery struct {
	Channel string
	Payload []byte
}

// MemoryBus is an in-process bus used in debug mode and tests. Fan-out
// is non-blocking: a subscriber with a full buffer loses the message
// rather than stalling the publisher.
type MemoryBus struct {
	mu          sync.RWMutex
	subscribers map[string][]chan Delivery
	logger      *slog.Logger
}

func NewMemoryBus(logger *slog.Logger) *MemoryBus {
	return &MemoryBus{
		subscribers: make(map[string][]chan Delivery),
		logger:      resolveLogger(logger),
	}
}

func (b *MemoryBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	subs := append([]chan Delivery(nil), b.subscribers[channel]...)
	b.mu.RUnlock()

	delivery := Delivery{
		Channel: channel,
		Payload: append([]byte(nil), payload...),
	}
	for _, sub := range subs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sub <- delivery:
		default:
			b.logger.Warn("dropping message for slow subscriber",
				"event", "memory_bus_drop",
				"module", "internal/platform/messaging",
				"layer", "platform",
				"channel", channel,
			)
		}
	}
	return nil
}

// Subscribe registers a buffered receiver for one channel.
func (b *MemoryBus) Subscribe(channel string) <-chan Delivery {
	sub := make(chan Delivery, 128)

	b.mu.Lock()
	b.subscribers[channel] = append(b.subscribers[channel], sub)
	b.mu.Unlock()

	return sub
}

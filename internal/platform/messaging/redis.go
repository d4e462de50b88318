package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisClient is the slice of go-redis the publisher uses, narrowed so
// tests can stand in a fake.
type redisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// RedisPublisher fans session outbox entries out over redis pub/sub.
type RedisPublisher struct {
	client redisClient
	logger *slog.Logger
}

func NewRedisPublisher(brokerURL string, logger *slog.Logger) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(brokerURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisPublisher{client: client, logger: resolveLogger(logger)}, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := p.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish to %s: %w", channel, err)
	}
	p.logger.Debug("message published",
		"event", "redis_publish",
		"module", "internal/platform/messaging",
		"layer", "platform",
		"channel", channel,
	)
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.client.Close()
}

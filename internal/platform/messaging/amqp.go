package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// amqpExchange is the topic exchange all outbox entries are routed
// through; the entry channel becomes the routing key.
const amqpExchange = "vivarium.events"

// amqpChannel is the slice of amqp091.Channel the publisher uses,
// narrowed so tests can stand in a fake.
type amqpChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPPublisher fans session outbox entries out through RabbitMQ.
type AMQPPublisher struct {
	conn     *amqp.Connection
	channel  amqpChannel
	exchange string
	logger   *slog.Logger
}

func NewAMQPPublisher(brokerURL string, logger *slog.Logger) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(brokerURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	if err := channel.ExchangeDeclare(amqpExchange, "topic", true, false, false, false, nil); err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare amqp exchange: %w", err)
	}

	return &AMQPPublisher{
		conn:     conn,
		channel:  channel,
		exchange: amqpExchange,
		logger:   resolveLogger(logger),
	}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	err := p.channel.PublishWithContext(ctx, p.exchange, channel, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         payload,
	})
	if err != nil {
		return fmt.Errorf("amqp publish to %s: %w", channel, err)
	}
	p.logger.Debug("message published",
		"event", "amqp_publish",
		"module", "internal/platform/messaging",
		"layer", "platform",
		"channel", channel,
	)
	return nil
}

func (p *AMQPPublisher) Close() error {
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			return fmt.Errorf("close amqp channel: %w", err)
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			return fmt.Errorf("close amqp connection: %w", err)
		}
	}
	return nil
}

// Package eventbus relays outbox messages to a message broker.
package eventbus

import (
	"context"
	"fmt"
	"log/slog"
)

// Publisher sends an encoded event to the broker.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload []byte) error
	Close() error
}

// Broker names a supported publisher backend.
type Broker string

const (
	BrokerRabbitMQ Broker = "rabbitmq"
	BrokerKafka    Broker = "kafka"
	BrokerNone     Broker = "none"
)

// Config selects and configures the publisher.
type Config struct {
	Broker       Broker
	RabbitMQURL  string
	Exchange     string
	KafkaBrokers []string
	KafkaTopic   string
}

// NewPublisher builds the publisher named by cfg.Broker.
func NewPublisher(cfg Config, logger *slog.Logger) (Publisher, error) {
	switch cfg.Broker {
	case BrokerRabbitMQ:
		return NewRabbitMQPublisher(cfg.RabbitMQURL, cfg.Exchange, logger)
	case BrokerKafka:
		return NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
	case BrokerNone, "":
		return NewNoopPublisher(logger), nil
	default:
		return nil, fmt.Errorf("unknown event broker %q", cfg.Broker)
	}
}

// NoopPublisher drops messages. It keeps the outbox draining in deployments
// without a broker.
type NoopPublisher struct {
	logger *slog.Logger
}

// NewNoopPublisher creates a publisher that only logs.
func NewNoopPublisher(logger *slog.Logger) *NoopPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoopPublisher{logger: logger}
}

func (p *NoopPublisher) Publish(_ context.Context, routingKey string, payload []byte) error {
	p.logger.Debug("noop publish", "routing_key", routingKey, "size", len(payload))
	return nil
}

func (p *NoopPublisher) Close() error { return nil }

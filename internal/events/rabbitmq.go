package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/smallbiznis/entitlementd/pkg/telemetry/correlation"
)

// RabbitMQPublisher publishes to a durable topic exchange.
type RabbitMQPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	log      *zap.Logger
	mu       sync.Mutex
}

func NewRabbitMQPublisher(url, exchange string, log *zap.Logger) (*RabbitMQPublisher, error) {
	log = log.Named("events.rabbitmq")

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	log.Info("rabbitmq publisher connected", zap.String("exchange", exchange))

	return &RabbitMQPublisher{
		conn:     conn,
		channel:  ch,
		exchange: exchange,
		log:      log,
	}, nil
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, routingKey string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	err := p.channel.PublishWithContext(ctx,
		p.exchange,
		routingKey,
		false,
		false,
		amqp.Publishing{
			ContentType:   "application/json",
			DeliveryMode:  amqp.Persistent,
			Timestamp:     time.Now().UTC(),
			CorrelationId: correlation.FromContext(ctx),
			Body:          payload,
		},
	)
	if err != nil {
		p.log.Error("failed to publish message", zap.String("routing_key", routingKey), zap.Error(err))
		return err
	}

	p.log.Debug("message published", zap.String("routing_key", routingKey), zap.Int("size", len(payload)))
	return nil
}

func (p *RabbitMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			p.log.Warn("error closing channel", zap.Error(err))
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			return err
		}
	}
	p.log.Info("rabbitmq publisher closed")
	return nil
}

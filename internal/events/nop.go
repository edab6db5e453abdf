package events

import (
	"context"

	"go.uber.org/zap"
)

// NopPublisher drops every message. Used when no broker is configured.
type NopPublisher struct {
	log *zap.Logger
}

func NewNopPublisher(log *zap.Logger) *NopPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &NopPublisher{log: log.Named("events.nop")}
}

func (p *NopPublisher) Publish(_ context.Context, routingKey string, payload []byte) error {
	p.log.Debug("noop publish", zap.String("routing_key", routingKey), zap.Int("size", len(payload)))
	return nil
}

func (p *NopPublisher) Close() error { return nil }

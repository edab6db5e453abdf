package events

import (
	"context"

	"github.com/smallbiznis/entitlementd/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("events",
	fx.Provide(NewPublisher),
)

func NewPublisher(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (Publisher, error) {
	if !cfg.AMQP.Enabled() {
		return NewNopPublisher(log), nil
	}

	pub, err := NewRabbitMQPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return pub.Close()
		},
	})
	return pub, nil
}

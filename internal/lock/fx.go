package lock

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/entitlementd/internal/config"
)

var Module = fx.Module("lock",
	fx.Provide(NewRedisClient),
	fx.Provide(NewLocker),
)

// NewRedisClient returns nil when Redis is not configured.
func NewRedisClient(lc fx.Lifecycle, cfg config.Config) redis.UniversalClient {
	if !cfg.Redis.Enabled() {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client
}

// NewLocker shares the lease across replicas when Redis is available and
// falls back to an in-process mutex otherwise.
func NewLocker(client redis.UniversalClient, log *zap.Logger) Locker {
	if client == nil {
		log.Info("redis not configured, using in-process locks")
		return NewLocalLocker()
	}
	return NewRedisLocker(client, DefaultTTL, log)
}

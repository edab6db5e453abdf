package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// RedisLocker is a SETNX lease shared by every replica. The lease expires
// after ttl so a crashed holder cannot wedge a user forever.
type RedisLocker struct {
	client     redis.UniversalClient
	script     *redis.Script
	ttl        time.Duration
	retryDelay time.Duration
	log        *zap.Logger
}

func NewRedisLocker(client redis.UniversalClient, ttl time.Duration, log *zap.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisLocker{
		client:     client,
		script:     redis.NewScript(lockReleaseScript),
		ttl:        ttl,
		retryDelay: DefaultRetryDelay,
		log:        log.Named("lock.redis"),
	}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, ErrNotConfigured
	}
	if key == "" {
		return "", false, ErrEmptyKey
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// Lock blocks until the lease is acquired or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	ticker := time.NewTicker(l.retryDelay)
	defer ticker.Stop()

	for {
		token, ok, err := l.TryLock(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			var once sync.Once
			return func() {
				once.Do(func() { l.release(key, token) })
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ErrAcquireTimeout
		case <-ticker.C:
		}
	}
}

func (l *RedisLocker) release(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.script.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
		l.log.Warn("failed to release lock", zap.String("key", key), zap.Error(err))
	}
}

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/smallbiznis/entitlementd/internal/config"
)

const keyReconcileUser = "entitlement:ratelimit:reconcile:user:%s"

var (
	ErrNotConfigured = errors.New("rate_limiter_not_configured")
	ErrEmptyKey      = errors.New("rate_limiter_key_empty")
	ErrInvalidConfig = errors.New("rate_limiter_invalid_config")
)

// Decision is the outcome of drawing one token.
type Decision struct {
	Allowed   bool
	Remaining int
	// RetryAfter is how long until a token is available; zero when allowed.
	RetryAfter time.Duration
}

// Bucket draws one token for key from a bucket refilled at rate per second
// up to burst.
type Bucket interface {
	Allow(ctx context.Context, key string, rate float64, burst int) (Decision, error)
}

// ReconcileLimiter bounds how often a single user may ask for an on-demand
// provider poll. A nil limiter allows everything.
type ReconcileLimiter struct {
	bucket Bucket
	rate   float64
	burst  int
	log    *zap.Logger
}

func NewReconcileLimiter(cfg config.Config, client redis.UniversalClient, log *zap.Logger) (*ReconcileLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}
	if limitCfg.ReconcileRate <= 0 || limitCfg.ReconcileBurst <= 0 {
		return nil, fmt.Errorf("%w: reconcile rate and burst must be positive", ErrInvalidConfig)
	}
	if log == nil {
		log = zap.NewNop()
	}

	var bucket Bucket
	if client != nil {
		bucket = NewRedisBucket(client)
	} else {
		log.Info("redis not configured, reconcile rate limit is per process")
		bucket = NewLocalBucket(time.Now)
	}

	return &ReconcileLimiter{
		bucket: bucket,
		rate:   limitCfg.ReconcileRate,
		burst:  limitCfg.ReconcileBurst,
		log:    log.Named("ratelimit.reconcile"),
	}, nil
}

func (l *ReconcileLimiter) AllowReconcile(ctx context.Context, userID string) (Decision, error) {
	if l == nil {
		return Decision{Allowed: true}, nil
	}
	if userID == "" {
		return Decision{}, ErrEmptyKey
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyReconcileUser, userID), l.rate, l.burst)
}

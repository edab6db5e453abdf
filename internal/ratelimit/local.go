package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LocalBucket keeps one limiter per key in process memory.
type LocalBucket struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	now      func() time.Time
}

func NewLocalBucket(now func() time.Time) *LocalBucket {
	if now == nil {
		now = time.Now
	}
	return &LocalBucket{
		limiters: make(map[string]*rate.Limiter),
		now:      now,
	}
}

func (b *LocalBucket) Allow(_ context.Context, key string, r float64, burst int) (Decision, error) {
	if key == "" {
		return Decision{}, ErrEmptyKey
	}
	if r <= 0 || burst <= 0 {
		return Decision{}, ErrInvalidConfig
	}

	b.mu.Lock()
	limiter, ok := b.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(r), burst)
		b.limiters[key] = limiter
	}
	b.mu.Unlock()

	now := b.now()
	allowed := limiter.AllowN(now, 1)
	remaining := limiter.TokensAt(now)

	retryAfter := time.Duration(0)
	if !allowed {
		if needed := 1.0 - remaining; needed > 0 {
			retryAfter = time.Duration(needed / r * float64(time.Second))
		}
	}

	return Decision{
		Allowed:    allowed,
		Remaining:  int(math.Max(0, math.Floor(remaining))),
		RetryAfter: retryAfter,
	}, nil
}

package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Token counts are stored in thousandths so the script only deals in integers;
// Redis truncates Lua numbers on return anyway. The refill timestamp only
// advances when at least one milli-token was added, so slow rates under
// frequent polling still refill.
const redisBucketScript = `
local rate_milli = tonumber(ARGV[1])
local burst_milli = tonumber(ARGV[2])
local ttl_ms = tonumber(ARGV[3])

local t = redis.call("TIME")
local now_ms = t[1] * 1000 + math.floor(t[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "milli", "at")
local milli = tonumber(state[1])
local at = tonumber(state[2])
if milli == nil or at == nil then
  milli = burst_milli
  at = now_ms
elseif now_ms > at then
  local refill = math.floor((now_ms - at) * rate_milli / 1000)
  if refill > 0 then
    milli = math.min(burst_milli, milli + refill)
    at = now_ms
  end
end

local allowed = 0
local retry_ms = 0
if milli >= 1000 then
  allowed = 1
  milli = milli - 1000
else
  retry_ms = math.ceil((1000 - milli) * 1000 / rate_milli)
end

redis.call("HSET", KEYS[1], "milli", milli, "at", at)
redis.call("PEXPIRE", KEYS[1], ttl_ms)
return {allowed, milli, retry_ms}
`

// RedisBucket keeps bucket state in a Redis hash so every API replica draws
// from the same per-user budget.
type RedisBucket struct {
	client redis.UniversalClient
	script *redis.Script
}

func NewRedisBucket(client redis.UniversalClient) *RedisBucket {
	return &RedisBucket{
		client: client,
		script: redis.NewScript(redisBucketScript),
	}
}

func (b *RedisBucket) Allow(ctx context.Context, key string, rate float64, burst int) (Decision, error) {
	if b == nil || b.client == nil {
		return Decision{}, ErrNotConfigured
	}
	if key == "" {
		return Decision{}, ErrEmptyKey
	}
	if rate <= 0 || burst <= 0 {
		return Decision{}, ErrInvalidConfig
	}

	rateMilli := int64(math.Max(1, math.Round(rate*1000)))
	out, err := b.script.Run(ctx, b.client, []string{key},
		rateMilli,
		int64(burst)*1000,
		bucketTTL(rate, burst).Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: redis bucket: %w", err)
	}
	if len(out) != 3 {
		return Decision{}, fmt.Errorf("ratelimit: redis bucket: unexpected reply of %d values", len(out))
	}

	return Decision{
		Allowed:    out[0] == 1,
		Remaining:  int(out[1] / 1000),
		RetryAfter: time.Duration(out[2]) * time.Millisecond,
	}, nil
}

// bucketTTL outlives a full refill twice over so an idle key expires only
// once it would be full again anyway.
func bucketTTL(rate float64, burst int) time.Duration {
	seconds := math.Ceil(2 * float64(burst) / rate)
	return time.Duration(math.Max(1, seconds)) * time.Second
}

package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultRatePerMinute = 60
	defaultLimiterPrefix = "aegis:ratelimit"
)

// tokenBucketScript refills and drains the bucket atomically inside Redis so
// concurrent API replicas share one budget per actor.
// KEYS[1] = bucket key
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity (max tokens)
// ARGV[3] = current unix timestamp (seconds, fractional)
var tokenBucketScript = goredis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = tokens + elapsed * rate
    if tokens > capacity then
        tokens = capacity
    end
    last_refill = now
end

local allowed = 0
if tokens >= 1 then
    tokens = tokens - 1
    allowed = 1
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 120)

return allowed
`)

// LimiterConfig tunes the per-actor token bucket.
type LimiterConfig struct {
	RatePerMinute int
	Burst         int
	Prefix        string
}

// Limiter is a distributed token-bucket rate limiter keyed by actor. A full
// bucket is assumed when no state exists, so idle actors pay nothing and the
// 120s key expiry is safe.
type Limiter struct {
	client *goredis.Client
	rate   float64
	burst  int
	prefix string
	now    func() time.Time
}

// NewLimiter wraps the shared client with limiter semantics.
func NewLimiter(client *goredis.Client, cfg LimiterConfig) *Limiter {
	ratePerMinute := cfg.RatePerMinute
	if ratePerMinute <= 0 {
		ratePerMinute = defaultRatePerMinute
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = ratePerMinute
	}
	prefix := strings.TrimSpace(cfg.Prefix)
	if prefix == "" {
		prefix = defaultLimiterPrefix
	}
	return &Limiter{
		client: client,
		rate:   float64(ratePerMinute) / 60.0,
		burst:  burst,
		prefix: prefix,
		now:    time.Now,
	}
}

// Allow consumes one token from the actor's bucket and reports whether the
// request may proceed. The caller decides how to react to Redis errors;
// the limiter itself never fails open or closed.
func (l *Limiter) Allow(ctx context.Context, actorID string) (bool, error) {
	key := fmt.Sprintf("%s:%s", l.prefix, actorID)
	now := float64(l.now().UnixMicro()) / 1e6

	res, err := tokenBucketScript.Run(ctx, l.client, []string{key}, l.rate, l.burst, now).Result()
	if err != nil {
		return false, fmt.Errorf("rate limiter: %w", err)
	}
	allowed, ok := res.(int64)
	if !ok {
		return false, fmt.Errorf("rate limiter: unexpected script result %T", res)
	}
	return allowed == 1, nil
}

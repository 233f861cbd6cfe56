// Package ratelimit provides Redis-backed sliding window rate limiting so a
// single runaway agent can't starve the authorizer for everyone else.
//
// Each limiter key is a Redis sorted set scored by request timestamp. Allow
// atomically trims entries outside the window, counts what's left, and adds
// the new request if under the limit — all in one Lua script so concurrent
// callers can't race past the limit between a read and a write.
package ratelimit

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// slidingWindowScript atomically trims, counts, and (if under limit) records
// a request against a sorted-set window.
// KEYS[1] = sorted set key
// ARGV[1] = window start (oldest allowed timestamp, microseconds)
// ARGV[2] = now (microseconds)
// ARGV[3] = limit
// ARGV[4] = unique member id
// ARGV[5] = key TTL in seconds
//
// Returns {allowed (0 or 1), current_count, micros_until_reset}.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local window_start = tonumber(ARGV[1])
local now = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]
local ttl = tonumber(ARGV[5])

redis.call('ZREMRANGEBYSCORE', key, '-inf', window_start)
local count = redis.call('ZCARD', key)

if count < limit then
    redis.call('ZADD', key, now, member)
    redis.call('EXPIRE', key, ttl)
    return {1, count + 1, 0}
else
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local reset_after = 0
    if #oldest >= 2 then
        reset_after = tonumber(oldest[2]) - window_start
    end
    redis.call('EXPIRE', key, ttl)
    return {0, count, reset_after}
end
`)

// Rule defines a rate limit window: how many requests per duration.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Result holds the outcome of a rate limit check.
type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// FormatHeaders renders Result as standard X-RateLimit-* response headers.
func (r Result) FormatHeaders() map[string]string {
	return map[string]string{
		"X-RateLimit-Limit":     fmt.Sprintf("%d", r.Limit),
		"X-RateLimit-Remaining": fmt.Sprintf("%d", r.Remaining),
		"X-RateLimit-Reset":     fmt.Sprintf("%d", r.ResetAt.Unix()),
	}
}

// Limiter enforces per-agent request rates backed by Redis.
type Limiter struct {
	client     *redis.Client
	logger     *zap.Logger
	counter    atomic.Uint64
	rule       Rule
	failClosed bool
}

// New dials a Redis client and returns a Limiter enforcing rule. When the
// Redis script call itself fails (not a rejection — a transport error),
// failClosed decides whether the request is denied or allowed through;
// New leaves failClosed false, so such requests are allowed through.
func New(addr string, rps, burst int, logger *zap.Logger) *Limiter {
	if rps < 1 {
		rps = 1
	}
	if burst < rps {
		burst = rps
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})
	return &Limiter{
		client: client,
		logger: logger,
		rule:   Rule{Limit: burst, Window: time.Duration(burst) * time.Second / time.Duration(rps)},
	}
}

// Close releases the underlying Redis connection pool.
func (l *Limiter) Close() error {
	return l.client.Close()
}

// Allow reports whether key (an agent id, or a remote address for
// unauthenticated callers) is within its rate limit.
func (l *Limiter) Allow(ctx context.Context, key string) Result {
	now := time.Now()
	nowMicro := now.UnixMicro()
	windowStart := now.Add(-l.rule.Window).UnixMicro()
	ttlSeconds := int(l.rule.Window.Seconds()) + 10
	seq := l.counter.Add(1)
	member := fmt.Sprintf("%d:%d", nowMicro, seq)

	redisKey := fmt.Sprintf("invarity:rl:%s", key)

	res, err := slidingWindowScript.Run(ctx, l.client,
		[]string{redisKey},
		windowStart, nowMicro, l.rule.Limit, member, ttlSeconds,
	).Int64Slice()

	if err != nil {
		if l.failClosed {
			l.logger.Error("ratelimit: redis error, denying request (fail-closed)", zap.Error(err), zap.String("key", redisKey))
			return Result{Allowed: false, Limit: l.rule.Limit, Remaining: 0, ResetAt: now.Add(l.rule.Window)}
		}
		l.logger.Warn("ratelimit: redis error, allowing request (fail-open)", zap.Error(err), zap.String("key", redisKey))
		return Result{Allowed: true, Limit: l.rule.Limit, Remaining: l.rule.Limit}
	}

	allowed := res[0] == 1
	count := int(res[1])
	remaining := l.rule.Limit - count
	if remaining < 0 {
		remaining = 0
	}

	resetAt := now.Add(l.rule.Window)
	if !allowed && res[2] > 0 {
		resetAt = now.Add(time.Duration(res[2]) * time.Microsecond)
	}

	return Result{Allowed: allowed, Limit: l.rule.Limit, Remaining: remaining, ResetAt: resetAt}
}

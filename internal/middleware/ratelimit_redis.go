package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// tokenBucketScript refills capacity tokens per window and takes one.
// Returns {allowed, retry_after_ms}.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local window_ms = tonumber(ARGV[3])

local state = redis.call('HMGET', key, 'tokens', 'ts')
local tokens = tonumber(state[1])
local ts = tonumber(state[2])
if tokens == nil or ts == nil then
  tokens = capacity
  ts = now_ms
end

local rate = capacity / window_ms
local elapsed = math.max(0, now_ms - ts)
tokens = math.min(capacity, tokens + elapsed * rate)

local allowed = 0
local retry_ms = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
else
  retry_ms = math.ceil((1 - tokens) / rate)
end

redis.call('HSET', key, 'tokens', tokens, 'ts', now_ms)
redis.call('PEXPIRE', key, window_ms * 2)
return {allowed, retry_ms}
`)

// RedisLimiter is a token bucket per key kept in Redis so that every
// instance behind a load balancer draws from the same budget.
type RedisLimiter struct {
	client redis.Scripter
	prefix string
	window time.Duration
	now    func() time.Time
}

func NewRedisLimiter(client redis.Scripter, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisLimiter{client: client, prefix: prefix, window: time.Minute, now: time.Now}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, rpm int) (bool, time.Duration, error) {
	res, err := tokenBucketScript.Run(ctx, l.client,
		[]string{l.prefix + ":" + key},
		l.now().UnixMilli(), rpm, l.window.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("redis token bucket: %w", err)
	}
	if len(res) != 2 {
		return false, 0, fmt.Errorf("redis token bucket: unexpected reply %v", res)
	}
	return res[0] == 1, time.Duration(res[1]) * time.Millisecond, nil
}

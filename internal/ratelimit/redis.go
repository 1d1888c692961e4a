package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindow keeps one sorted set per key, scored by request time in milliseconds.
// Returns {allowed, remaining, retry_after_ms}.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count < max then
  redis.call('ZADD', key, now, ARGV[4])
  redis.call('PEXPIRE', key, window)
  return {1, max - count - 1, 0}
end

local retry = window
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if oldest[2] then
  retry = tonumber(oldest[2]) + window - now
end
return {0, 0, retry}
`)

// Redis shares the request logs between app instances. The clock is the caller's,
// so instances are expected to run with synchronized time.
type Redis struct {
	rdb    *redis.Client
	max    int
	window time.Duration
	prefix string
	now    func() time.Time
}

func NewRedis(rdb *redis.Client, max int, window time.Duration) *Redis {
	return &Redis{rdb: rdb, max: max, window: window, prefix: "lector:rl:", now: time.Now}
}

// WithClock replaces the time source.
func (r *Redis) WithClock(now func() time.Time) *Redis {
	r.now = now
	return r
}

func (r *Redis) Allow(ctx context.Context, key string) (Decision, error) {
	nowMS := r.now().UnixMilli()
	res, err := slidingWindow.Run(ctx, r.rdb,
		[]string{r.prefix + key},
		nowMS,
		r.window.Milliseconds(),
		r.max,
		strconv.FormatInt(nowMS, 10)+"-"+uuid.NewString(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit script failed: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("rate limit script returned %d values", len(res))
	}
	return Decision{
		Allowed:    res[0] == 1,
		Remaining:  int(res[1]),
		RetryAfter: time.Duration(res[2]) * time.Millisecond,
	}, nil
}

package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Limiter decides whether one more event fits in the window for key.
type Limiter interface {
	Allow(ctx context.Context, key string, window time.Duration, max int) (allowed bool, remaining int, reset time.Time, err error)
}

// slidingScript trims the window, then admits the event only when there is
// room. Rejected events are not recorded. Scores are unix milliseconds.
var slidingScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
if count >= max then
  local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
  return {0, count, oldest[2] or tostring(now)}
end
redis.call('ZADD', key, now, ARGV[4])
redis.call('PEXPIRE', key, window)
local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
return {1, count + 1, first[2]}
`)

// Sliding is a sliding-window limiter backed by a Redis sorted set per key.
// It guards the write endpoints where a fixed window would let a burst
// straddle the boundary.
type Sliding struct {
	Client *redis.Client
	Prefix string
	Now    func() time.Time
}

// Allow registers an event for key and reports whether it is within max.
func (l Sliding) Allow(ctx context.Context, key string, window time.Duration, max int) (allowed bool, remaining int, reset time.Time, err error) {
	now := time.Now()
	if l.Now != nil {
		now = l.Now()
	}
	if l.Client == nil || max <= 0 || window <= 0 {
		return true, max, now.Add(window), nil
	}

	nowMs := now.UnixMilli()
	member := key + ":" + uuid.NewString()
	res, err := slidingScript.Run(ctx, l.Client, []string{l.Prefix + key},
		nowMs, window.Milliseconds(), max, member).Slice()
	if err != nil {
		return false, 0, now.Add(window), err
	}
	if len(res) != 3 {
		return false, 0, now.Add(window), fmt.Errorf("ratelimit: unexpected script reply %v", res)
	}
	admitted, _ := res[0].(int64)
	count, _ := res[1].(int64)
	oldestMs, perr := strconv.ParseFloat(fmt.Sprint(res[2]), 64)
	if perr != nil {
		oldestMs = float64(nowMs)
	}
	reset = time.UnixMilli(int64(oldestMs)).Add(window)

	remaining = max - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return admitted == 1, remaining, reset, nil
}

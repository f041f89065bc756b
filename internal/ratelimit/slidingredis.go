package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slidingWindow trims events older than the window, records the new event
// only when it fits, and reports the oldest surviving event so the caller can
// tell the client when a slot frees up. Scores are microseconds.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < max then
  redis.call('ZADD', key, now, ARGV[4])
  count = count + 1
  allowed = 1
end
redis.call('PEXPIRE', key, ARGV[5])
local oldest = now
local first = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
if first[2] then oldest = tonumber(first[2]) end
return {allowed, count, oldest}
`)

// RedisLimiter is the shared sliding-window limiter used when pricing runs as
// several replicas. Each client key holds a sorted set of admitted request
// times; refused requests are not recorded, so a throttled client regains
// quota as soon as its oldest admitted call leaves the window.
type RedisLimiter struct {
	Client redis.Scripter
	Prefix string
	// Now defaults to time.Now.
	Now func() time.Time
}

// Allow implements Allower.
func (l RedisLimiter) Allow(ctx context.Context, key string, window time.Duration, limit int) (bool, int, time.Time, error) {
	now := time.Now
	if l.Now != nil {
		now = l.Now
	}
	at := now()
	if l.Client == nil || limit <= 0 || window <= 0 {
		return true, limit, at.Add(window), nil
	}

	ttl := window.Milliseconds()
	if ttl < 1 {
		ttl = 1
	}
	res, err := slidingWindow.Run(ctx, l.Client, []string{l.Prefix + key},
		at.UnixMicro(), window.Microseconds(), limit, uuid.NewString(), strconv.FormatInt(ttl, 10)).Int64Slice()
	if err != nil {
		return false, 0, at.Add(window), err
	}
	allowed, count, oldest := res[0] == 1, int(res[1]), res[2]
	return allowed, max(0, limit-count), time.UnixMicro(oldest).Add(window), nil
}

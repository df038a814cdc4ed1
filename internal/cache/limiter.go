package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var incrWithTTLScript = redis.NewScript(`
local c = redis.call("INCR", KEYS[1])
if c == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return c
`)

// HourlyLimiter counts calls per clock hour under one name. A nil limiter, or
// one with a limit below one, allows everything.
type HourlyLimiter struct {
	redis *redis.Client
	name  string
	limit int64
}

func NewHourlyLimiter(rdb *redis.Client, name string, limit int64) *HourlyLimiter {
	if rdb == nil || limit < 1 {
		return nil
	}
	return &HourlyLimiter{redis: rdb, name: name, limit: limit}
}

func (l *HourlyLimiter) Allow(ctx context.Context, now time.Time) (allowed bool, used int64, resetAt time.Time, err error) {
	if l == nil {
		return true, 0, time.Time{}, nil
	}
	windowStart := now.UTC().Truncate(time.Hour)
	windowEnd := windowStart.Add(time.Hour)
	ttl := int64(windowEnd.Sub(now.UTC()).Seconds())
	if ttl < 1 {
		ttl = 1
	}

	key := fmt.Sprintf("%sratelimit:%s:%s", keyPrefix, l.name, windowStart.Format("2006010215"))
	res, err := incrWithTTLScript.Run(ctx, l.redis, []string{key}, ttl).Int64()
	if err != nil {
		return false, 0, time.Time{}, fmt.Errorf("rate limit script: %w", err)
	}
	return res <= l.limit, res, windowEnd, nil
}

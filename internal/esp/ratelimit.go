package esp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Checks and increments the per-minute counter in one round trip so that
// concurrent workers never overshoot the limit.
var minuteLimitScript = redis.NewScript(`
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local current = tonumber(redis.call("GET", key) or "0")
if current + 1 > limit then
    return {0, current}
end

local n = redis.call("INCR", key)
if n == 1 then
    redis.call("EXPIRE", key, ttl)
end
return {1, n}
`)

// RedisLimiter enforces a per-provider sends-per-minute limit shared by
// every worker process.
type RedisLimiter struct {
	rdb       *redis.Client
	perMinute int
	now       func() time.Time
}

// NewRedisLimiter creates a limiter. perMinute <= 0 means unlimited.
func NewRedisLimiter(rdb *redis.Client, perMinute int) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, perMinute: perMinute, now: time.Now}
}

// Allow consumes one slot in the provider's current minute.
func (l *RedisLimiter) Allow(ctx context.Context, provider string) (bool, error) {
	if l == nil || l.rdb == nil || l.perMinute <= 0 {
		return true, nil
	}
	minute := l.now().Unix() / 60
	key := fmt.Sprintf("mailflow:ratelimit:%s:min:%d", strings.ToLower(provider), minute)

	res, err := minuteLimitScript.Run(ctx, l.rdb, []string{key}, l.perMinute, 120).Slice()
	if err != nil {
		return false, fmt.Errorf("rate limit check: %w", err)
	}
	if len(res) < 1 {
		return false, fmt.Errorf("rate limit check: unexpected reply %v", res)
	}
	allowed, _ := res[0].(int64)
	return allowed == 1, nil
}

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrWindow increments the counter and gives it a TTL if it has none,
// in one step, so a counter can never outlive its window.
var incrWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if redis.call("PTTL", KEYS[1]) < 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// RedisLimiter is a fixed-window limiter shared across instances.
// Each window is one counter key with a TTL.
type RedisLimiter struct {
	client   redis.Cmdable
	prefix   string
	limit    int
	duration time.Duration
}

// NewRedis creates a limiter backed by the given redis client.
func NewRedis(client redis.Cmdable, prefix string, limit int, duration time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, prefix: prefix, limit: limit, duration: duration}
}

// Allow increments the counter for key and reports whether it is within limit.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	k := l.prefix + key
	n, err := incrWindow.Run(ctx, l.client, []string{k}, l.duration.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("ratelimit incr: %w", err)
	}
	return n <= int64(l.limit), nil
}

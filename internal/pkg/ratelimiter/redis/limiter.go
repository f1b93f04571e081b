package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/open-apime/crmhub/internal/pkg/ratelimiter"
)

// INCR e PEXPIRE no mesmo script para que a janela nunca fique sem TTL.
var fixedWindow = redis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {n, redis.call("PTTL", KEYS[1])}
`)

type RedisLimiter struct {
	client redis.Scripter
}

func NewLimiter(client redis.Scripter) *RedisLimiter {
	return &RedisLimiter{client: client}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (*ratelimiter.Result, error) {
	vals, err := fixedWindow.Run(ctx, l.client, []string{key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("ratelimiter: redis: %w", err)
	}
	if len(vals) != 2 {
		return nil, fmt.Errorf("ratelimiter: redis: resposta inesperada %v", vals)
	}

	count, ttl := int(vals[0]), time.Duration(vals[1])*time.Millisecond
	if ttl <= 0 {
		ttl = window
	}
	return &ratelimiter.Result{
		Allowed:    count <= limit,
		Remaining:  max(limit-count, 0),
		Reset:      time.Now().Add(ttl),
		RetryAfter: ttl,
	}, nil
}

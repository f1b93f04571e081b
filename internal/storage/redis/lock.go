package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/open-apime/crmhub/internal/pkg/lock"
)

// compareAndDelete apaga a chave apenas se o token ainda for o do dono.
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker implementa lock.Locker com SET NX PX, válido entre réplicas.
type Locker struct {
	rdb redis.UniversalClient
}

func NewLocker(client *Client) *Locker {
	return &Locker{rdb: client.rdb}
}

func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (lock.Release, error) {
	token := uuid.New().String()
	ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}
	if !ok {
		return nil, lock.ErrNotAcquired
	}

	return func(ctx context.Context) error {
		err := compareAndDelete.Run(ctx, l.rdb, []string{key}, token).Err()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("liberar lock %s: %w", key, err)
		}
		return nil
	}, nil
}

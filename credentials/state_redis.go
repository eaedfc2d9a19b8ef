package credentials

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const stateKeyPrefix = "calsync:oauth-state:"

// RedisStateCache shares OAuth state tokens across instances, so the
// callback may land on a different instance than the one that started the
// flow.
type RedisStateCache struct {
	rdb redis.UniversalClient
}

// NewRedisStateCache wraps an existing Redis client.
func NewRedisStateCache(rdb redis.UniversalClient) *RedisStateCache {
	return &RedisStateCache{rdb: rdb}
}

func (c *RedisStateCache) Put(ctx context.Context, state, userID string, ttl time.Duration) error {
	return c.rdb.Set(ctx, stateKeyPrefix+state, userID, ttl).Err()
}

// Consume atomically reads and deletes the state key, so concurrent
// callbacks with the same state cannot both succeed.
func (c *RedisStateCache) Consume(ctx context.Context, state string) (string, error) {
	userID, err := c.rdb.GetDel(ctx, stateKeyPrefix+state).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}

	if err != nil {
		return "", err
	}

	return userID, nil
}

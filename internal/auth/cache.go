package auth

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Cache remembers recently validated tokens. Keys are digests of the bearer
// string, never the string itself.
type Cache interface {
	Get(ctx context.Context, key string) (uuid.UUID, bool, error)
	Set(ctx context.Context, key string, accountID uuid.UUID, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type RedisCache struct {
	client *redis.Client
	prefix string
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, prefix: "coinledger:token:"}
}

func (c *RedisCache) Get(ctx context.Context, key string) (uuid.UUID, bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	accountID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false, nil
	}
	return accountID, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, accountID uuid.UUID, ttl time.Duration) error {
	return c.client.Set(ctx, c.prefix+key, accountID.String(), ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.prefix+key).Err()
}

package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/boardflow/boardflow-backend/internal/core/errors"
	"github.com/boardflow/boardflow-backend/internal/core/ports"
)

// Cache implements ports.Cache on Redis.
type Cache struct {
	rdb *redis.Client
}

var _ ports.Cache = (*Cache)(nil)

// NewCache creates a cache on the given Redis client.
func NewCache(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

// Get returns the value for key, or apperrors.ErrCacheMiss if absent.
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	value, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", apperrors.ErrCacheMiss
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// Set stores value under key with the given TTL.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// Delete removes the given keys.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// DeleteByPattern removes every key matching the glob pattern. Uses SCAN
// rather than KEYS so a large keyspace never blocks the server.
func (c *Cache) DeleteByPattern(ctx context.Context, pattern string) error {
	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()

	batch := make([]string, 0, 100)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := c.rdb.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return c.rdb.Del(ctx, batch...).Err()
	}
	return nil
}

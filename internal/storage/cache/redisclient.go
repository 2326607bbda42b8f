// --- File: internal/storage/cache/redisclient.go ---
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tinywideclouds/go-device-messaging/pkg/messaging"
)

var _ messaging.LocalCache = (*RedisCache)(nil)

// Options configures the Redis connection and key layout.
type Options struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces keys so several devices can share one Redis.
	Prefix string
	// TTL of 0 keeps entries until cleared.
	TTL time.Duration
}

// RedisCache is a LocalCache on top of go-redis.
type RedisCache struct {
	rdb    redis.Cmdable
	closer func() error
	prefix string
	ttl    time.Duration
}

func NewRedisCache(opts Options) (*RedisCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	// Fail fast if connection is bad
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &RedisCache{rdb: rdb, closer: rdb.Close, prefix: opts.Prefix, ttl: opts.TTL}, nil
}

// NewRedisCacheFromClient wraps an existing client. The caller keeps ownership of it.
func NewRedisCacheFromClient(rdb redis.Cmdable, prefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) Read(ctx context.Context, key string) ([]byte, error) {
	val, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, messaging.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

func (c *RedisCache) Write(ctx context.Context, key string, value []byte) error {
	return c.rdb.Set(ctx, c.prefix+key, value, c.ttl).Err()
}

func (c *RedisCache) Clear(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, c.prefix+key).Err()
}

func (c *RedisCache) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

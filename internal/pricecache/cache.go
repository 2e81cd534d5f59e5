package pricecache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Cache stores current prices as canonical decimal strings.
type Cache interface {
	SetPrices(ctx context.Context, prices map[string]string, ttl time.Duration) error
	GetPrice(ctx context.Context, key string) (price string, found bool, err error)
}

// RedisOptions configure the Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// RedisCache is a Cache backed by Redis string keys.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache connects to Redis and checks the connection.
func NewRedisCache(ctx context.Context, opts RedisOptions) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", opts.Addr, err)
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = "priceingest:"
	}
	return &RedisCache{client: client, prefix: prefix}, nil
}

// SetPrices writes all prices in one pipeline.
func (c *RedisCache) SetPrices(ctx context.Context, prices map[string]string, ttl time.Duration) error {
	if len(prices) == 0 {
		return nil
	}
	pipe := c.client.Pipeline()
	for key, price := range prices {
		pipe.Set(ctx, c.prefix+key, price, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

// GetPrice reads one price. A missing key is not an error.
func (c *RedisCache) GetPrice(ctx context.Context, key string) (string, bool, error) {
	value, err := c.client.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Close releases the Redis connection.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

var _ Cache = (*RedisCache)(nil)

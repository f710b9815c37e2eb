package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/alfred-ai/netctl/config"
	"github.com/redis/go-redis/v9"
)

// Client wraps a go-redis client for the small set of operations the
// distributed rate-limit sync hook needs.
type Client struct {
	c *redis.Client
}

// New creates a Redis client from the provided config. Returns an error
// if the Redis URL cannot be parsed.
func New(cfg *config.Config) (*Client, error) {
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	r := redis.NewClient(opt)
	return &Client{c: r}, nil
}

// Ping verifies connectivity.
func (r *Client) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return r.c.Ping(ctx).Err()
}

// IncrWithExpire atomically increments key and sets its expiry to ttl
// on every call. Returns the post-increment value.
func (r *Client) IncrWithExpire(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return r.IncrByWithExpire(ctx, key, 1, ttl)
}

// IncrByWithExpire atomically increments key by delta and sets its
// expiry to ttl on every call, so an existing key's expiry is
// refreshed. Returns the post-increment value.
func (r *Client) IncrByWithExpire(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	pipe := r.c.TxPipeline()
	incr := pipe.IncrBy(ctx, key, delta)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}

// Get returns the current integer value stored at key, or 0 if absent.
func (r *Client) Get(ctx context.Context, key string) (int64, error) {
	v, err := r.c.Get(ctx, key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return v, err
}

// Close releases the underlying connection pool.
func (r *Client) Close() error {
	return r.c.Close()
}

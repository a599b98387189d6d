package db

import (
	"context"
	"fmt"
	"time"

	"launchpad/internal/logging"

	"github.com/go-redis/redis/v8"
)

// RedisClient wraps the go-redis client used by the routing ledger and
// the rate limiter.
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient connects to Redis using a redis:// URL.
func NewRedisClient(redisURL string) (*RedisClient, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	opts.PoolSize = 100
	opts.MinIdleConns = 10
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 2 * time.Second
	opts.WriteTimeout = 2 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logging.S().Info("Redis connected")
	return &RedisClient{client: client}, nil
}

// NewRedisClientFromExisting wraps an already-constructed client.
// Used by tests that run against miniredis.
func NewRedisClientFromExisting(client *redis.Client) *RedisClient {
	return &RedisClient{client: client}
}

// Client returns the underlying go-redis client.
func (rc *RedisClient) Client() *redis.Client {
	return rc.client
}

// Ping tests the Redis connection.
func (rc *RedisClient) Ping(ctx context.Context) error {
	return rc.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (rc *RedisClient) Close() error {
	return rc.client.Close()
}

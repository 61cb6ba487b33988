// Package kv wraps the shared Redis client used by the session-day rate
// limiter. It exposes only the narrow set of operations the rate limiter
// needs: pipelined INCR+TTL, EXPIRE, and SET NX EX.
package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is the KV operations the rate limiter depends on.
type Store interface {
	// IncrWithTTL increments key by 1 and returns the new count together
	// with the key's current TTL; the TTL is negative if the key has no
	// expiry or doesn't exist (go-redis TTL semantics).
	IncrWithTTL(ctx context.Context, key string) (count int64, ttl time.Duration, err error)

	// Expire sets key's TTL, replacing any TTL it already has.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// SetNX sets key to value with the given TTL only if key does not
	// already exist. Returns true if the key was set by this call.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Close releases the underlying connection.
	Close() error
}

// RedisStore implements Store against a real Redis server via go-redis.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore builds a RedisStore from a redis:// URL.
func NewRedisStore(url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisStore{client: redis.NewClient(opts)}, nil
}

func (s *RedisStore) IncrWithTTL(ctx context.Context, key string) (int64, time.Duration, error) {
	pipe := s.client.Pipeline()
	incrCmd := pipe.Incr(ctx, key)
	ttlCmd := pipe.TTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("incr+ttl pipeline: %w", err)
	}
	return incrCmd.Val(), ttlCmd.Val(), nil
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Expire(ctx, key, ttl).Err()
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, value, ttl).Result()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

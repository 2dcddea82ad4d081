package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const blockKeyPrefix = "rl:block:"
const countKeyPrefix = "rl:count:"

// RedisStore is the shared-backend counter table for multi-instance
// deployments. Counts ride INCR with a window TTL; blocks are separate
// keys whose TTL is the remaining block time.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Check(ctx context.Context, key string, p Policy, now time.Time) (Result, error) {
	blockTTL, err := s.client.TTL(ctx, blockKeyPrefix+key).Result()
	if err != nil {
		return Result{}, fmt.Errorf("rate limit backend: %w", err)
	}
	if blockTTL > 0 {
		return Result{
			Allowed:    false,
			Remaining:  0,
			ResetAt:    now.Add(blockTTL),
			RetryAfter: blockTTL,
		}, nil
	}

	countKey := countKeyPrefix + key
	count, err := s.client.Incr(ctx, countKey).Result()
	if err != nil {
		return Result{}, fmt.Errorf("rate limit backend: %w", err)
	}
	if count == 1 {
		if err := s.client.Expire(ctx, countKey, p.Window).Err(); err != nil {
			return Result{}, fmt.Errorf("rate limit backend: %w", err)
		}
	}

	if count > int64(p.MaxRequests) {
		if err := s.client.Set(ctx, blockKeyPrefix+key, 1, p.BlockDuration).Err(); err != nil {
			return Result{}, fmt.Errorf("rate limit backend: %w", err)
		}
		return Result{
			Allowed:    false,
			Remaining:  0,
			ResetAt:    now.Add(p.BlockDuration),
			RetryAfter: p.BlockDuration,
		}, nil
	}

	windowTTL, err := s.client.TTL(ctx, countKey).Result()
	if err != nil || windowTTL < 0 {
		windowTTL = p.Window
	}
	return Result{
		Allowed:   true,
		Remaining: p.MaxRequests - int(count),
		ResetAt:   now.Add(windowTTL),
	}, nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	return s.client.Del(ctx, countKeyPrefix+key, blockKeyPrefix+key).Err()
}

// Prune is a no-op: key TTLs already bound memory on the shared backend.
func (s *RedisStore) Prune(context.Context, time.Duration, time.Time) error {
	return nil
}

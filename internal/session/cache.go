package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/sitework-service/internal/domain"
)

// Entry is a cached session copy stamped with when it was read from the
// durable store. Copies older than the staleness bound are revalidated
// before any security decision.
type Entry struct {
	Session  domain.Session `json:"session"`
	CachedAt time.Time      `json:"cached_at"`
}

// Cache is the bounded-staleness read cache in front of the durable
// store. The memory implementation serves a single instance; the redis
// implementation is the drop-in for multi-instance deployments.
type Cache interface {
	Get(ctx context.Context, id string) (*Entry, error)
	Set(ctx context.Context, sess domain.Session, cachedAt time.Time) error
	Delete(ctx context.Context, id string) error
	// Prune removes entries matched by the predicate.
	Prune(ctx context.Context, match func(domain.Session) bool) error
}

// MemoryCache is a mutex-guarded map cache local to one serving instance.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryCache builds an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]Entry)}
}

func (c *MemoryCache) Get(_ context.Context, id string) (*Entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (c *MemoryCache) Set(_ context.Context, sess domain.Session, cachedAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[sess.ID] = Entry{Session: sess, CachedAt: cachedAt}
	return nil
}

func (c *MemoryCache) Delete(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
	return nil
}

func (c *MemoryCache) Prune(_ context.Context, match func(domain.Session) bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, e := range c.entries {
		if match(e.Session) {
			delete(c.entries, id)
		}
	}
	return nil
}

const redisCachePrefix = "session:cache:"

// RedisCache mirrors session rows in a shared backend so several serving
// instances can front the same durable store. Entries carry a TTL of the
// staleness bound; expiry doubles as revalidation.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache wraps an existing client.
func NewRedisCache(client *redis.Client, staleness time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: staleness}
}

func (c *RedisCache) Get(ctx context.Context, id string) (*Entry, error) {
	raw, err := c.client.Get(ctx, redisCachePrefix+id).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (c *RedisCache) Set(ctx context.Context, sess domain.Session, cachedAt time.Time) error {
	raw, err := json.Marshal(Entry{Session: sess, CachedAt: cachedAt})
	if err != nil {
		return err
	}
	return c.client.Set(ctx, redisCachePrefix+sess.ID, raw, c.ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, id string) error {
	return c.client.Del(ctx, redisCachePrefix+id).Err()
}

// Prune is a no-op: the staleness TTL already evicts shared entries.
func (c *RedisCache) Prune(context.Context, func(domain.Session) bool) error {
	return nil
}

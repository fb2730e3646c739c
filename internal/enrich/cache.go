package enrich

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores resolved participants by profile key.
type Cache interface {
	Get(ctx context.Context, key string) (Participant, bool, error)
	Set(ctx context.Context, key string, p Participant) error
}

type memoryEntry struct {
	p       Participant
	expires time.Time
}

// MemoryCache is an in-process Cache with a fixed TTL.
type MemoryCache struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemoryCache creates a MemoryCache.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, now: time.Now, entries: make(map[string]memoryEntry)}
}

func (c *MemoryCache) Get(_ context.Context, key string) (Participant, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.now().After(e.expires) {
		return Participant{}, false, nil
	}
	return e.p, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, p Participant) error {
	c.mu.Lock()
	c.entries[key] = memoryEntry{p: p, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return nil
}

// ProfilePrefix is the Redis key prefix for cached participants.
const ProfilePrefix = "profile:"

type cachedProfile struct {
	Name      string `redis:"name"`
	AvatarURL string `redis:"avatar_url"`
}

// RedisCache shares resolved participants between client processes.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a RedisCache.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, key string) (Participant, bool, error) {
	var cp cachedProfile
	res := c.client.HGetAll(ctx, ProfilePrefix+key)
	if err := res.Err(); err != nil {
		return Participant{}, false, fmt.Errorf("enrich: redis get: %w", err)
	}
	if len(res.Val()) == 0 {
		return Participant{}, false, nil
	}
	if err := res.Scan(&cp); err != nil {
		return Participant{}, false, fmt.Errorf("enrich: redis scan: %w", err)
	}
	return Participant{Name: cp.Name, AvatarURL: cp.AvatarURL}, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, p Participant) error {
	k := ProfilePrefix + key
	pipe := c.client.Pipeline()
	pipe.HSet(ctx, k, "name", p.Name, "avatar_url", p.AvatarURL)
	pipe.Expire(ctx, k, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enrich: redis set: %w", err)
	}
	return nil
}

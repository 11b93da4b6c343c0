package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedPage is what a cache backend stores per cache key.
type CachedPage struct {
	Title string                 `json:"title"`
	Data  map[string]interface{} `json:"data"`
}

// Cache is the pluggable backend fronting the scrape pipeline.
// Reads are lock-free where the backend allows it; writes are
// last-writer-wins; TTL is enforced at read time.
type Cache interface {
	Get(ctx context.Context, key string) (*CachedPage, bool, error)
	Set(ctx context.Context, key string, page *CachedPage, ttl time.Duration) error
}

// InProcessCache is an in-memory TTL map, used when no durable cache
// backend is configured.
type InProcessCache struct {
	mu      sync.RWMutex
	entries map[string]inProcessEntry
}

type inProcessEntry struct {
	page      *CachedPage
	expiresAt time.Time
}

func NewInProcessCache() *InProcessCache {
	return &InProcessCache{entries: make(map[string]inProcessEntry)}
}

func (c *InProcessCache) Get(_ context.Context, key string) (*CachedPage, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false, nil
	}
	return entry.page, true, nil
}

func (c *InProcessCache) Set(_ context.Context, key string, page *CachedPage, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = inProcessEntry{page: page, expiresAt: time.Now().Add(ttl)}
	return nil
}

// RedisCache is the durable cache backend for production deployments.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) (*CachedPage, bool, error) {
	raw, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis cache get: %w", err)
	}

	var page CachedPage
	if err := json.Unmarshal([]byte(raw), &page); err != nil {
		return nil, false, fmt.Errorf("decode cached page: %w", err)
	}
	return &page, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, page *CachedPage, ttl time.Duration) error {
	raw, err := json.Marshal(page)
	if err != nil {
		return fmt.Errorf("encode cached page: %w", err)
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis cache set: %w", err)
	}
	return nil
}

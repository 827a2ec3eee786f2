package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MemoryCache is a bounded TTL cache held in process memory.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	now     func() time.Time
	entries map[string]cacheEntry
}

type cacheEntry struct {
	info   Info
	expiry time.Time
}

// NewMemoryCache creates a cache holding at most maxEntries entries for ttl each.
func NewMemoryCache(ttl time.Duration, maxEntries int) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = 500
	}
	return &MemoryCache{
		ttl:     ttl,
		max:     maxEntries,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// Get implements Cache.
func (m *MemoryCache) Get(_ context.Context, address string) (Info, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[address]
	if !ok {
		return Info{}, false, nil
	}
	if m.now().After(e.expiry) {
		delete(m.entries, address)
		return Info{}, false, nil
	}
	return e.info, true, nil
}

// Set implements Cache. When full, expired entries are evicted first and then
// an arbitrary entry.
func (m *MemoryCache) Set(_ context.Context, address string, info Info) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if _, exists := m.entries[address]; !exists && len(m.entries) >= m.max {
		for k, e := range m.entries {
			if now.After(e.expiry) {
				delete(m.entries, k)
			}
		}
		for k := range m.entries {
			if len(m.entries) < m.max {
				break
			}
			delete(m.entries, k)
		}
	}
	m.entries[address] = cacheEntry{info: info, expiry: now.Add(m.ttl)}
	return nil
}

// RedisCache shares lookups between instances through Redis.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects to redisURL and verifies the connection.
func NewRedisCache(ctx context.Context, redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisCache{client: client, prefix: "caseinv:enrich:", ttl: ttl}, nil
}

// Get implements Cache.
func (r *RedisCache) Get(ctx context.Context, address string) (Info, bool, error) {
	raw, err := r.client.Get(ctx, r.prefix+address).Bytes()
	if errors.Is(err, redis.Nil) {
		return Info{}, false, nil
	}
	if err != nil {
		return Info{}, false, fmt.Errorf("redis get: %w", err)
	}
	var info Info
	if err := json.Unmarshal(raw, &info); err != nil {
		return Info{}, false, fmt.Errorf("decode cached info: %w", err)
	}
	return info, true, nil
}

// Set implements Cache.
func (r *RedisCache) Set(ctx context.Context, address string, info Info) error {
	raw, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("encode info: %w", err)
	}
	if err := r.client.Set(ctx, r.prefix+address, raw, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close releases the Redis connection pool.
func (r *RedisCache) Close() error {
	return r.client.Close()
}

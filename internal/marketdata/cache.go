package marketdata

import (
	"context"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Cache is a small byte cache for upstream payloads. It shields the
// delayed-quote endpoints from repeated fetches inside one staleness
// budget; it is never a substitute for freshness checks.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, val []byte, ttl time.Duration)
}

type memoryCache struct {
	mu sync.Mutex
	m  map[string]memoryEntry
}

type memoryEntry struct {
	b   []byte
	exp time.Time
}

// NewMemoryCache returns an in-process cache with per-key TTLs.
func NewMemoryCache() Cache {
	return &memoryCache{m: make(map[string]memoryEntry)}
}

func (c *memoryCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[key]
	if !ok || (!e.exp.IsZero() && time.Now().After(e.exp)) {
		return nil, false
	}
	return e.b, true
}

func (c *memoryCache) Set(key string, val []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := memoryEntry{b: append([]byte(nil), val...)}
	if ttl > 0 {
		e.exp = time.Now().Add(ttl)
	}
	c.m[key] = e
}

type redisByteCache struct {
	r *redis.Client
}

// NewCache returns a redis-backed cache when addr is set, otherwise the
// in-process cache. Redis failures degrade to cache misses.
func NewCache(addr string, db int) Cache {
	if addr == "" {
		return NewMemoryCache()
	}
	return &redisByteCache{r: redis.NewClient(&redis.Options{Addr: addr, DB: db})}
}

func (r *redisByteCache) Get(key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	v, err := r.r.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return v, true
}

func (r *redisByteCache) Set(key string, val []byte, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_ = r.r.Set(ctx, key, val, ttl).Err()
}

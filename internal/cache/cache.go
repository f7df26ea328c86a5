// Package cache provides an in-memory TTL cache.
package cache

import (
	"context"
	"sync"
	"time"
)

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache is a thread-safe in-memory TTL cache. A zero TTL disables it: every
// Get misses and Set is a no-op.
type Cache[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]
	ttl     time.Duration
	now     func() time.Time
}

// New creates a cache whose entries live for ttl.
func New[V any](ttl time.Duration) *Cache[V] {
	return &Cache[V]{
		entries: make(map[string]entry[V]),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Enabled reports whether the cache stores anything.
func (c *Cache[V]) Enabled() bool { return c.ttl > 0 }

// Get retrieves a cached value and whether it was found and fresh.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	if !c.Enabled() {
		return zero, false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, exists := c.entries[key]
	if !exists || !c.now().Before(e.expiresAt) {
		return zero, false
	}
	return e.value, true
}

// Set stores a value for the cache TTL.
func (c *Cache[V]) Set(key string, value V) {
	if !c.Enabled() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
}

// GetOrLoad returns the cached value for key, calling load on a miss. Load
// errors are returned and not cached.
func (c *Cache[V]) GetOrLoad(ctx context.Context, key string, load func(context.Context) (V, error)) (V, bool, error) {
	if v, ok := c.Get(key); ok {
		return v, true, nil
	}
	v, err := load(ctx)
	if err != nil {
		return v, false, err
	}
	c.Set(key, v)
	return v, false, nil
}

// Stats is a snapshot of key counts.
type Stats struct {
	Enabled     bool `json:"enabled"`
	TotalKeys   int  `json:"total_keys"`
	ActiveKeys  int  `json:"active_keys"`
	ExpiredKeys int  `json:"expired_keys"`
}

// Stats returns cache statistics.
func (c *Cache[V]) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	active := 0
	now := c.now()
	for _, e := range c.entries {
		if now.Before(e.expiresAt) {
			active++
		}
	}
	return Stats{
		Enabled:     c.Enabled(),
		TotalKeys:   len(c.entries),
		ActiveKeys:  active,
		ExpiredKeys: len(c.entries) - active,
	}
}

// Evict removes expired entries and returns how many were dropped.
func (c *Cache[V]) Evict() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for key, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, key)
			n++
		}
	}
	return n
}

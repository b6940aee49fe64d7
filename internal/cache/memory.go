package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

type entry[T any] struct {
	val T
	exp time.Time
}

// TTLCache is a generic in-process cache with per-entry expiry.
type TTLCache[T any] struct {
	mu  sync.RWMutex
	m   map[string]entry[T]
	obs Observer
	now func() time.Time
}

// NewTTLCache creates an empty cache. obs may be nil.
func NewTTLCache[T any](obs Observer) *TTLCache[T] {
	return &TTLCache[T]{m: make(map[string]entry[T]), obs: obs, now: time.Now}
}

// Get returns the value for key if present and not expired.
func (c *TTLCache[T]) Get(key string) (T, bool) {
	var zero T
	c.mu.RLock()
	e, ok := c.m[key]
	c.mu.RUnlock()
	if !ok || c.now().After(e.exp) {
		if c.obs != nil {
			c.obs.CacheMiss()
		}
		return zero, false
	}
	if c.obs != nil {
		c.obs.CacheHit()
	}
	return e.val, true
}

// Set stores v under key for ttl.
func (c *TTLCache[T]) Set(key string, v T, ttl time.Duration) {
	c.mu.Lock()
	c.m[key] = entry[T]{val: v, exp: c.now().Add(ttl)}
	c.mu.Unlock()
}

// Delete removes key.
func (c *TTLCache[T]) Delete(key string) {
	c.mu.Lock()
	delete(c.m, key)
	c.mu.Unlock()
}

// DeletePrefix removes every key starting with prefix and returns how many were removed.
func (c *TTLCache[T]) DeletePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k := range c.m {
		if strings.HasPrefix(k, prefix) {
			delete(c.m, k)
			removed++
		}
	}
	return removed
}

// Prune drops expired entries.
func (c *TTLCache[T]) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, e := range c.m {
		if now.After(e.exp) {
			delete(c.m, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored entries, expired or not.
func (c *TTLCache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

// MemoryCache adapts a TTLCache of raw bytes to the Cache interface.
type MemoryCache struct {
	store *TTLCache[[]byte]
}

// NewMemoryCache creates an in-process Cache.
func NewMemoryCache(obs Observer) *MemoryCache {
	return &MemoryCache{store: NewTTLCache[[]byte](obs)}
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.store.Get(key)
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)
	m.store.Set(key, stored, ttl)
	return nil
}

func (m *MemoryCache) Delete(_ context.Context, key string) error {
	m.store.Delete(key)
	return nil
}

func (m *MemoryCache) Clear(_ context.Context) error {
	m.store.DeletePrefix(KeyPrefix + ":")
	return nil
}

// Prune drops expired entries.
func (m *MemoryCache) Prune() int {
	return m.store.Prune()
}

func (m *MemoryCache) Close() error {
	return nil
}

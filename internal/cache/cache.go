// Package cache is a bounded in-process cache with per-entry expiry.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Keys shared between writers and invalidators.
const (
	LockedCapsulesKey = "capsules:locked"
	heirKeyPrefix     = "heir:"
)

// HeirKey is the cache key of the heir registered under email.
func HeirKey(email string) string {
	return heirKeyPrefix + email
}

type entry struct {
	value   any
	expires time.Time // zero means no expiry
}

// Cache maps string keys to values with individual TTLs. Least recently
// used entries are evicted once size is reached.
type Cache struct {
	lru *expirable.LRU[string, entry]
	now func() time.Time

	loadMu sync.Mutex
}

// New creates a cache holding at most size entries. Zero means unbounded.
func New(size int) *Cache {
	// TTLs are tracked per entry, so the LRU itself never expires anything
	return &Cache{
		lru: expirable.NewLRU[string, entry](size, nil, 0),
		now: time.Now,
	}
}

// Get returns the live value under key.
func (c *Cache) Get(key string) (any, bool) {
	e, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		c.lru.Remove(key)
		return nil, false
	}
	return e.value, true
}

// Set stores value under key for ttl. A non-positive ttl never expires.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	e := entry{value: value}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.lru.Add(key, e)
}

// Delete drops key.
func (c *Cache) Delete(key string) {
	c.lru.Remove(key)
}

// Len returns the number of stored entries, including expired ones not yet dropped.
func (c *Cache) Len() int {
	return c.lru.Len()
}

// GetOrSet returns the cached value under key, calling load only on a miss
// and caching its result for ttl. Errors are returned and not cached.
// Concurrent misses are serialized so load runs once per expiry.
func GetOrSet[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	if v, ok := lookup[T](c, key); ok {
		return v, nil
	}

	c.loadMu.Lock()
	defer c.loadMu.Unlock()

	if v, ok := lookup[T](c, key); ok {
		return v, nil
	}

	v, err := load(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	c.Set(key, v, ttl)
	return v, nil
}

func lookup[T any](c *Cache, key string) (T, bool) {
	raw, ok := c.Get(key)
	if !ok {
		var zero T
		return zero, false
	}
	v, ok := raw.(T)
	return v, ok
}

package fetcher

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// entry pairs a cached value with its expiry.
type entry[V any] struct {
	value   V
	expires time.Time
}

// TTLCache is a small bounded cache with per-entry expiry, shared by every
// fetcher implementation so repeated polls within a tick don't refetch
// unchanged upstream data.
// A miss, including an expired entry, always triggers a fresh fetch — a
// stale entry is never returned in place of a live one.
type TTLCache[K comparable, V any] struct {
	lru *lru.Cache[K, entry[V]]
	ttl time.Duration
}

// NewTTLCache builds a cache holding at most size entries, each valid for
// ttl after insertion.
func NewTTLCache[K comparable, V any](size int, ttl time.Duration) (*TTLCache[K, V], error) {
	c, err := lru.New[K, entry[V]](size)
	if err != nil {
		return nil, err
	}
	return &TTLCache[K, V]{lru: c, ttl: ttl}, nil
}

// Get returns the cached value for key if present and not expired.
func (c *TTLCache[K, V]) Get(key K, now time.Time) (V, bool) {
	var zero V
	e, ok := c.lru.Get(key)
	if !ok {
		return zero, false
	}
	if now.After(e.expires) {
		c.lru.Remove(key)
		return zero, false
	}
	return e.value, true
}

// Set stores value under key with the cache's configured TTL measured
// from now.
func (c *TTLCache[K, V]) Set(key K, value V, now time.Time) {
	c.lru.Add(key, entry[V]{value: value, expires: now.Add(c.ttl)})
}

// Package lru provides a bounded least-recently-used cache used for preview
// strings and feature-image blobs.
package lru

import (
	"sync/atomic"

	hlru "github.com/hashicorp/golang-lru/v2"
)

// EvictFunc is called for every value that leaves the cache through eviction
// or explicit removal. Replacing the value of a resident key does not call it.
type EvictFunc[K comparable, V any] func(key K, value V)

// Option configures a Cache.
type Option[K comparable, V any] func(*Cache[K, V])

// WithOnEvict registers fn to release resources held by departing values.
func WithOnEvict[K comparable, V any](fn EvictFunc[K, V]) Option[K, V] {
	return func(c *Cache[K, V]) {
		c.onEvict = fn
	}
}

// Stats are cumulative counters since construction.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Cache is a fixed-capacity LRU map keyed on comparable keys.
type Cache[K comparable, V any] struct {
	lru      *hlru.Cache[K, V]
	capacity atomic.Int64
	onEvict  EvictFunc[K, V]

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// New creates a cache holding at most capacity entries. A capacity below one
// is raised to one.
func New[K comparable, V any](capacity int, opts ...Option[K, V]) *Cache[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	c := &Cache[K, V]{}
	for _, opt := range opts {
		opt(c)
	}
	var (
		l   *hlru.Cache[K, V]
		err error
	)
	if c.onEvict != nil {
		l, err = hlru.NewWithEvict[K, V](capacity, func(k K, v V) { c.onEvict(k, v) })
	} else {
		l, err = hlru.New[K, V](capacity)
	}
	if err != nil {
		// Only a non-positive size is rejected, which is ruled out above.
		panic(err)
	}
	c.lru = l
	c.capacity.Store(int64(capacity))
	return c
}

// Get returns the value for key and marks it most recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	v, ok := c.lru.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok
}

// Peek returns the value for key without touching recency or counters.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	return c.lru.Peek(key)
}

// Put inserts or replaces key and evicts the least recently used entry past
// capacity. It reports whether another entry was evicted to make room.
func (c *Cache[K, V]) Put(key K, value V) bool {
	evicted := c.lru.Add(key, value)
	if evicted {
		c.evictions.Add(1)
	}
	return evicted
}

// Remove deletes key. It reports whether the key was present.
func (c *Cache[K, V]) Remove(key K) bool {
	return c.lru.Remove(key)
}

// RemoveFunc deletes every entry for which match returns true and returns the
// number removed.
func (c *Cache[K, V]) RemoveFunc(match func(key K, value V) bool) int {
	n := 0
	for _, k := range c.lru.Keys() {
		v, ok := c.lru.Peek(k)
		if !ok || !match(k, v) {
			continue
		}
		if c.lru.Remove(k) {
			n++
		}
	}
	return n
}

// Len returns the number of resident entries.
func (c *Cache[K, V]) Len() int {
	return c.lru.Len()
}

// Capacity returns the entry ceiling.
func (c *Cache[K, V]) Capacity() int {
	return int(c.capacity.Load())
}

// Resize changes the ceiling, evicting immediately when it shrinks.
func (c *Cache[K, V]) Resize(capacity int) {
	if capacity < 1 {
		capacity = 1
	}
	c.capacity.Store(int64(capacity))
	if n := c.lru.Resize(capacity); n > 0 {
		c.evictions.Add(uint64(n))
	}
}

// Keys returns resident keys from least to most recently used.
func (c *Cache[K, V]) Keys() []K {
	return c.lru.Keys()
}

// Clear removes all entries, invoking the evict callback for each.
func (c *Cache[K, V]) Clear() {
	c.lru.Purge()
}

// Stats returns hit, miss and eviction counters.
func (c *Cache[K, V]) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

// Package cache provides a bounded in-memory key-value cache with TTL
// expiry and FIFO eviction.
//
// TTL is enforced on read: an expired entry behaves as a miss and is
// deleted. The size bound is enforced on write: at capacity the single
// oldest-inserted key is evicted before the new entry is added. This is a
// FIFO approximation of LRU, cheap and sufficient for the read-heavy,
// low-cardinality keyspaces it fronts (normalizer memoization, fault-code
// lookup results).
//
// Example usage:
//
//	c := cache.New[string](10*time.Minute, 256)
//	c.Set("worcester bosch", "worcester")
//	v, ok := c.Get("worcester bosch")
package cache

import (
	"sync"
	"time"
)

// entry pairs a value with its insertion time.
type entry[V any] struct {
	value    V
	storedAt time.Time
}

// Cache is a thread-safe bounded TTL cache.
type Cache[V any] struct {
	mu         sync.Mutex
	entries    map[string]entry[V]
	order      []string // insertion order, oldest first
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
	metrics    *Metrics // optional
}

// Option configures a Cache.
type Option[V any] func(*Cache[V])

// WithNow overrides the clock, for tests.
func WithNow[V any](now func() time.Time) Option[V] {
	return func(c *Cache[V]) { c.now = now }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics[V any](m *Metrics) Option[V] {
	return func(c *Cache[V]) { c.metrics = m }
}

// New creates a cache with the given TTL and maximum entry count.
func New[V any](ttl time.Duration, maxEntries int, opts ...Option[V]) *Cache[V] {
	c := &Cache[V]{
		entries:    make(map[string]entry[V]),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value for key, if present and not expired.
// Expired entries are removed.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		c.recordMiss()
		return zero, false
	}
	if c.now().Sub(e.storedAt) > c.ttl {
		c.removeLocked(key)
		c.recordMiss()
		return zero, false
	}
	c.recordHit()
	return e.value, true
}

// Set stores value under key. If the cache is at capacity and key is not
// already present, the oldest-inserted entry is evicted first, so the cache
// never exceeds its bound.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; exists {
		// Refresh in place; insertion order is unchanged.
		c.entries[key] = entry[V]{value: value, storedAt: c.now()}
		return
	}

	if len(c.entries) >= c.maxEntries && len(c.order) > 0 {
		oldest := c.order[0]
		c.removeLocked(oldest)
		if c.metrics != nil {
			c.metrics.Evictions.Inc()
		}
	}

	c.entries[key] = entry[V]{value: value, storedAt: c.now()}
	c.order = append(c.order, key)
	if c.metrics != nil {
		c.metrics.Size.Set(float64(len(c.entries)))
	}
}

// Delete removes key. No-op if absent.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(key)
}

// Clear removes all entries.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry[V])
	c.order = nil
	if c.metrics != nil {
		c.metrics.Size.Set(0)
	}
}

// Len returns the number of live entries, including any not yet lazily
// expired.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// removeLocked deletes key from the map and the insertion-order slice.
// Caller must hold the lock.
func (c *Cache[V]) removeLocked(key string) {
	if _, ok := c.entries[key]; !ok {
		return
	}
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	if c.metrics != nil {
		c.metrics.Size.Set(float64(len(c.entries)))
	}
}

func (c *Cache[V]) recordHit() {
	if c.metrics != nil {
		c.metrics.Hits.Inc()
	}
}

func (c *Cache[V]) recordMiss() {
	if c.metrics != nil {
		c.metrics.Misses.Inc()
	}
}

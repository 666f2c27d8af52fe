// Package sessioncache holds short-lived documents keyed by id for the
// lifetime of an operator session, with at most one outstanding load per id.
package sessioncache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long an entry stays fresh.
const DefaultTTL = 5 * time.Minute

// Loader fetches the value for a key on a cache miss.
type Loader[V any] func(ctx context.Context, key string) (V, error)

// Cache is a concurrent-safe LRU cache with TTL expiration and an in-flight
// guard. Entries are immutable once stored.
type Cache[V any] struct {
	mu         sync.Mutex
	entries    map[string]*entry[V]
	order      []string // LRU order: front=oldest, back=newest
	inflight   map[string]int
	maxEntries int
	ttl        time.Duration
	group      singleflight.Group
	now        func() time.Time

	hits     atomic.Int64
	misses   atomic.Int64
	loads    atomic.Int64
	failures atomic.Int64
}

type entry[V any] struct {
	value    V
	storedAt time.Time
}

// Stats contains cache performance statistics.
type Stats struct {
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries"`
	InFlight   int     `json:"in_flight"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	Loads      int64   `json:"loads"`
	Failures   int64   `json:"failures"`
	HitRate    float64 `json:"hit_rate"`
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New creates a Cache holding up to maxEntries values for ttl each. A
// non-positive ttl uses DefaultTTL; a non-positive maxEntries means unbounded.
func New[V any](maxEntries int, ttl time.Duration, opts ...Option) *Cache[V] {
	o := options{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache[V]{
		entries:    make(map[string]*entry[V]),
		inflight:   make(map[string]int),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        o.now,
	}
}

// Get returns a fresh cached value.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(key)
}

func (c *Cache[V]) getLocked(key string) (V, bool) {
	var zero V
	e, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return zero, false
	}
	if c.now().Sub(e.storedAt) > c.ttl {
		delete(c.entries, key)
		c.removeFromOrder(key)
		c.misses.Add(1)
		return zero, false
	}
	c.removeFromOrder(key)
	c.order = append(c.order, key)
	c.hits.Add(1)
	return e.value, true
}

// Has reports whether a fresh value is cached without touching statistics.
func (c *Cache[V]) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fresh(key)
}

// Put stores a value, evicting the least recently used entry at capacity.
func (c *Cache[V]) Put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		c.entries[key] = &entry[V]{value: value, storedAt: c.now()}
		c.removeFromOrder(key)
		c.order = append(c.order, key)
		return
	}

	for c.maxEntries > 0 && len(c.entries) >= c.maxEntries && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	c.entries[key] = &entry[V]{value: value, storedAt: c.now()}
	c.order = append(c.order, key)
}

// InFlight reports whether a load for key is outstanding.
func (c *Cache[V]) InFlight(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight[key] > 0
}

func (c *Cache[V]) track(key string, delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inflight[key] += delta
	if c.inflight[key] <= 0 {
		delete(c.inflight, key)
	}
}

// fresh reports whether key holds an unexpired entry; callers hold mu.
func (c *Cache[V]) fresh(key string) bool {
	e, ok := c.entries[key]
	return ok && c.now().Sub(e.storedAt) <= c.ttl
}

// Fetch returns the cached value or loads it. Concurrent callers for the same
// key share one load. Failed loads are not cached.
func (c *Cache[V]) Fetch(ctx context.Context, key string, load Loader[V]) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	res, err, _ := c.group.Do(key, func() (any, error) {
		c.track(key, 1)
		defer c.track(key, -1)

		c.mu.Lock()
		if c.fresh(key) {
			v := c.entries[key].value
			c.mu.Unlock()
			return v, nil
		}
		c.mu.Unlock()

		c.loads.Add(1)
		v, err := load(ctx, key)
		if err != nil {
			c.failures.Add(1)
			return v, err
		}
		c.Put(key, v)
		return v, nil
	})
	v, _ := res.(V)
	return v, err
}

// Prefetch starts a background load when key is neither cached nor already
// loading. It reports whether a load was started. The load outlives ctx's
// cancellation so a finished fetch always lands in the cache.
func (c *Cache[V]) Prefetch(ctx context.Context, key string, load Loader[V]) bool {
	c.mu.Lock()
	if c.fresh(key) || c.inflight[key] > 0 {
		c.mu.Unlock()
		return false
	}
	c.inflight[key]++
	c.mu.Unlock()

	bg := context.WithoutCancel(ctx)
	go func() {
		defer c.track(key, -1)
		if _, err := c.Fetch(bg, key, load); err != nil {
			zap.L().Debug("sessioncache: prefetch failed",
				zap.String("key", key),
				zap.Error(err),
			)
		}
	}()
	return true
}

// Invalidate drops one entry.
func (c *Cache[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	c.removeFromOrder(key)
}

// Clear drops every entry.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry[V])
	c.order = nil
}

// Stats returns cache performance statistics.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	entries := len(c.entries)
	inflight := len(c.inflight)
	c.mu.Unlock()

	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Entries:    entries,
		MaxEntries: c.maxEntries,
		InFlight:   inflight,
		Hits:       hits,
		Misses:     misses,
		Loads:      c.loads.Load(),
		Failures:   c.failures.Load(),
		HitRate:    hitRate,
	}
}

// removeFromOrder removes a key from the LRU order slice.
func (c *Cache[V]) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

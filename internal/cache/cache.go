// Package cache provides a bounded in-process key/value cache with TTL
// expiry and least-recently-used eviction. Each consumer constructs and owns
// its own instance; there are no package-level singletons.
package cache

import (
	"sync"
	"time"
)

// DefaultSweepInterval is how often the background sweep removes expired entries.
const DefaultSweepInterval = time.Minute

type entry[V any] struct {
	value V
	// storedAt is the insertion time; age beyond the TTL expires the entry.
	storedAt time.Time
	// accessCounter is a monotonic touch sequence, not wall-clock recency.
	// The entry with the smallest counter is evicted when the cache is full.
	accessCounter uint64
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Size      int     `json:"size"`
	MaxSize   int     `json:"maxSize"`
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Evictions uint64  `json:"evictions"`
	Expired   uint64  `json:"expired"`
	HitRate   float64 `json:"hitRate"`
}

// Cache is a concurrency-safe bounded LRU+TTL cache.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]*entry[V]
	maxSize int
	ttl     time.Duration
	counter uint64

	hits      uint64
	misses    uint64
	evictions uint64
	expired   uint64

	stop chan struct{}
	once sync.Once
}

// New creates a cache and starts its background sweep. Close releases it.
func New[V any](maxSize int, ttl time.Duration) *Cache[V] {
	return NewWithSweep[V](maxSize, ttl, DefaultSweepInterval)
}

// NewWithSweep creates a cache with an explicit sweep interval.
// sweepInterval <= 0 disables the background sweep.
func NewWithSweep[V any](maxSize int, ttl time.Duration, sweepInterval time.Duration) *Cache[V] {
	if maxSize <= 0 {
		maxSize = 1000
	}
	c := &Cache[V]{
		entries: make(map[string]*entry[V]),
		maxSize: maxSize,
		ttl:     ttl,
		stop:    make(chan struct{}),
	}
	if sweepInterval > 0 {
		go c.sweepLoop(sweepInterval)
	}
	return c
}

// Close stops the background sweep. Safe to call more than once.
func (c *Cache[V]) Close() {
	c.once.Do(func() { close(c.stop) })
}

// Get returns the cached value. An expired entry counts as a miss and is removed.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}
	if c.isExpired(e, time.Now()) {
		delete(c.entries, key)
		c.expired++
		c.misses++
		var zero V
		return zero, false
	}

	c.counter++
	e.accessCounter = c.counter
	c.hits++
	return e.value, true
}

// Set stores a value, evicting the least-recently-used entry when full.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	c.counter++
	c.entries[key] = &entry[V]{
		value:         value,
		storedAt:      time.Now(),
		accessCounter: c.counter,
	}
}

// Delete removes a key.
func (c *Cache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Has reports whether a live (non-expired) entry exists without touching recency.
func (c *Cache[V]) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return ok && !c.isExpired(e, time.Now())
}

// Clear removes all entries. Counters are kept.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry[V])
}

// Len returns the current entry count.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Size:      len(c.entries),
		MaxSize:   c.maxSize,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Expired:   c.expired,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

func (c *Cache[V]) isExpired(e *entry[V], now time.Time) bool {
	return c.ttl > 0 && now.Sub(e.storedAt) > c.ttl
}

// evictOldest removes the entry with the smallest access counter. Caller holds the lock.
func (c *Cache[V]) evictOldest() {
	var oldestKey string
	oldest := uint64(0)
	first := true
	for k, e := range c.entries {
		if first || e.accessCounter < oldest {
			oldestKey = k
			oldest = e.accessCounter
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
		c.evictions++
	}
}

// sweepLoop removes expired entries periodically so memory stays bounded
// even when keys are never read again.
func (c *Cache[V]) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweep(time.Now())
		}
	}
}

func (c *Cache[V]) sweep(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if c.isExpired(e, now) {
			delete(c.entries, k)
			c.expired++
		}
	}
}

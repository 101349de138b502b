// Package cache implements the exact-match response cache: an LRU bounded
// by entry count with per-entry TTL. Expiry is checked lazily on every
// read and eagerly by a background sweep.
package cache

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"github.com/TheProjectSEO/shield/pkg/telemetry/metrics"
)

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces the time source. Tests use this to control expiry
// deterministically.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger used by the sweep loop.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) { c.logger = logger }
}

// WithMetrics attaches a collector. name labels the series so multiple
// caches stay distinguishable.
func WithMetrics(m *metrics.Collector, name string) Option {
	return func(c *Cache) {
		c.metrics = m
		c.metricLabels = metrics.Labels{"cache": name}
	}
}

// entry is one cached value. Entries live in the LRU list; the map points
// at list elements.
type entry struct {
	key       string
	value     string
	createdAt time.Time
	ttl       time.Duration
	hitCount  int64
}

// Cache is an exact-key LRU cache with TTL. All methods are safe for
// concurrent use.
type Cache struct {
	maxEntries   int
	defaultTTL   time.Duration
	now          func() time.Time
	logger       *slog.Logger
	metrics      *metrics.Collector
	metricLabels metrics.Labels

	mu    sync.Mutex
	ll    *list.List               // front = most recently used
	items map[string]*list.Element // key -> element holding *entry

	hits      int64
	misses    int64
	evictions int64
	expiries  int64
}

// New creates a cache bounded to maxEntries live entries. defaultTTL
// applies to Set calls that do not specify their own.
func New(maxEntries int, defaultTTL time.Duration, opts ...Option) *Cache {
	c := &Cache{
		maxEntries: maxEntries,
		defaultTTL: defaultTTL,
		now:        time.Now,
		logger:     slog.Default().With("component", "cache"),
		ll:         list.New(),
		items:      make(map[string]*list.Element),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached value for key. An expired entry counts as a miss
// and is removed.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		c.recordLookup(false)
		return "", false
	}
	e := el.Value.(*entry)
	if c.expired(e) {
		c.removeElement(el)
		c.expiries++
		c.misses++
		c.recordLookup(false)
		c.recordSize()
		return "", false
	}

	c.ll.MoveToFront(el)
	e.hitCount++
	c.hits++
	c.recordLookup(true)
	return e.value, true
}

// Set stores value under key. The optional ttl overrides the default; at
// most one may be given. Setting an existing key refreshes its value,
// TTL, and recency.
func (c *Cache) Set(key, value string, ttl ...time.Duration) {
	d := c.defaultTTL
	if len(ttl) > 0 {
		d = ttl[0]
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry)
		e.value = value
		e.createdAt = c.now()
		e.ttl = d
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&entry{
		key:       key,
		value:     value,
		createdAt: c.now(),
		ttl:       d,
	})
	c.items[key] = el

	for len(c.items) > c.maxEntries {
		c.evictOldest()
	}
	c.recordSize()
}

// WithCache returns the cached value for key, or computes it with producer
// and stores the result. Concurrent misses for the same key may each call
// producer; the cache does not single-flight. Producer errors are returned
// without caching.
func (c *Cache) WithCache(key string, producer func() (string, error)) (string, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := producer()
	if err != nil {
		return "", err
	}
	c.Set(key, v)
	return v, nil
}

// Delete removes key if present. Removing an unknown key is a no-op.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeElement(el)
		c.recordSize()
	}
}

// Len returns the number of live entries, including any not yet swept.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Sweep removes every expired entry and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for el := c.ll.Back(); el != nil; {
		prev := el.Prev()
		if e := el.Value.(*entry); c.expired(e) {
			c.removeElement(el)
			c.expiries++
			removed++
		}
		el = prev
	}
	if removed > 0 {
		c.recordSize()
	}
	return removed
}

// StartSweeper runs Sweep every interval until stop is closed.
func (c *Cache) StartSweeper(interval time.Duration, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if n := c.Sweep(); n > 0 {
					c.logger.Debug("swept expired cache entries", "removed", n)
				}
			}
		}
	}()
}

// Stats is a snapshot of cache effectiveness counters.
type Stats struct {
	Size      int     `json:"size"`
	MaxSize   int     `json:"max_size"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	HitRate   float64 `json:"hit_rate"`
	Evictions int64   `json:"evictions"`
	Expiries  int64   `json:"expiries"`
}

// GetStats returns a snapshot of the cache counters. HitRate is 0 until
// the first lookup.
func (c *Cache) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Size:      len(c.items),
		MaxSize:   c.maxEntries,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Expiries:  c.expiries,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

func (c *Cache) expired(e *entry) bool {
	return e.ttl > 0 && c.now().Sub(e.createdAt) > e.ttl
}

func (c *Cache) evictOldest() {
	if el := c.ll.Back(); el != nil {
		c.removeElement(el)
		c.evictions++
	}
}

func (c *Cache) removeElement(el *list.Element) {
	c.ll.Remove(el)
	delete(c.items, el.Value.(*entry).key)
}

func (c *Cache) recordLookup(hit bool) {
	if c.metrics == nil {
		return
	}
	if hit {
		c.metrics.IncrementCounter("cache_hits_total", c.metricLabels)
	} else {
		c.metrics.IncrementCounter("cache_misses_total", c.metricLabels)
	}
}

func (c *Cache) recordSize() {
	if c.metrics != nil {
		c.metrics.SetGauge("cache_size", c.metricLabels, float64(len(c.items)))
	}
}

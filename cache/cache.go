package cache

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ornabmomin/poem-api/models"
)

// entry holds a cached value with its expiry and creation timestamps.
type entry[V any] struct {
	value     V
	expiresAt time.Time
	createdAt time.Time
}

// Options configures a Cache.
type Options struct {
	// Enabled is the global switch. A disabled cache accepts writes but
	// always reports absence.
	Enabled bool

	// DefaultTTL applies to Set.
	DefaultTTL time.Duration // default: 5m

	// CleanupInterval is the period of the background expiry sweep.
	CleanupInterval time.Duration // default: 5m

	Logger *slog.Logger
}

// Cache is an in-memory key/value store with per-entry expiry.
// Expired entries are removed lazily on read and by a periodic sweep.
// It is safe for concurrent use.
type Cache[V any] struct {
	mu    sync.Mutex
	store map[string]*entry[V]

	enabled         bool
	defaultTTL      time.Duration
	cleanupInterval time.Duration
	logger          *slog.Logger
	now             func() time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// New creates a Cache. The background sweep does not run until Start.
func New[V any](opts Options) *Cache[V] {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 5 * time.Minute
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = 5 * time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Cache[V]{
		store:           make(map[string]*entry[V]),
		enabled:         opts.Enabled,
		defaultTTL:      opts.DefaultTTL,
		cleanupInterval: opts.CleanupInterval,
		logger:          opts.Logger,
		now:             time.Now,
		done:            make(chan struct{}),
	}
}

// Get returns the value for key. It reports false when the key was never
// set, was deleted, has expired, or the cache is disabled. Reading an
// expired entry deletes it.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	if !c.enabled {
		return zero, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.store[key]
	if !ok {
		return zero, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.store, key)
		c.logger.Debug("cache expired", "key", key)
		return zero, false
	}

	c.logger.Debug("cache hit", "key", key)
	return e.value, true
}

// Has reports whether a live entry exists for key, with the same lazy
// eviction as Get.
func (c *Cache[V]) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Set stores value under key with the default TTL.
func (c *Cache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL stores value under key, expiring ttl from now. Any existing
// entry is overwritten. A non-positive ttl uses the default.
func (c *Cache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	if !c.enabled {
		return
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	now := c.now()
	c.mu.Lock()
	c.store[key] = &entry[V]{
		value:     value,
		expiresAt: now.Add(ttl),
		createdAt: now,
	}
	c.mu.Unlock()

	c.logger.Debug("cache set", "key", key, "ttl", ttl)
}

// Delete removes key and reports whether it was present.
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	_, ok := c.store[key]
	delete(c.store, key)
	c.mu.Unlock()

	if ok {
		c.logger.Debug("cache deleted", "key", key)
	}
	return ok
}

// Clear removes every entry and returns how many were dropped.
func (c *Cache[V]) Clear() int {
	c.mu.Lock()
	n := len(c.store)
	c.store = make(map[string]*entry[V])
	c.mu.Unlock()

	c.logger.Info("cache cleared", "removed", n)
	return n
}

// Cleanup removes every expired entry and returns how many were dropped.
func (c *Cache[V]) Cleanup() int {
	now := c.now()
	removed := 0

	c.mu.Lock()
	for k, e := range c.store {
		if now.After(e.expiresAt) {
			delete(c.store, k)
			removed++
		}
	}
	c.mu.Unlock()

	if removed > 0 {
		c.logger.Debug("cache cleanup", "removed", removed)
	}
	return removed
}

// Stats scans the store. Expired entries that are still physically present
// count toward Total until a Get or Cleanup removes them.
func (c *Cache[V]) Stats() models.CacheStats {
	now := c.now()
	stats := models.CacheStats{Enabled: c.enabled}

	c.mu.Lock()
	defer c.mu.Unlock()

	stats.Total = len(c.store)
	for _, e := range c.store {
		if now.After(e.expiresAt) {
			stats.Expired++
		} else {
			stats.Valid++
		}
	}
	return stats
}

// Enabled reports the global switch.
func (c *Cache[V]) Enabled() bool {
	return c.enabled
}

// Start launches the background expiry sweep. Calling it more than once
// has no effect.
func (c *Cache[V]) Start() {
	c.startOnce.Do(func() {
		c.wg.Add(1)
		go c.cleanupLoop()
	})
}

// Stop terminates the background sweep and waits for it to exit.
func (c *Cache[V]) Stop() {
	c.stopOnce.Do(func() {
		close(c.done)
	})
	c.wg.Wait()
}

// cleanupLoop runs Cleanup every cleanupInterval.
func (c *Cache[V]) cleanupLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.Cleanup()
		}
	}
}

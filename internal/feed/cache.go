package feed

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/grandarena/contest-api/internal/platform/logging"
)

// FetchFunc produces a fresh value for a cache key. It must be
// idempotent: the cache may invoke it again on any later refresh.
type FetchFunc func(ctx context.Context) (any, error)

type cacheEntry struct {
	value     any
	fetchedAt time.Time
	ttl       time.Duration
}

// Cache is a TTL cache with stale-while-revalidate semantics. A single
// refresh mutex serializes misses and stale refreshes across ALL keys:
// the feed publishes a handful of resources on a TTL of minutes, so one
// in-flight fetch at a time is plenty and it makes duplicate concurrent
// fetches of the same remote resource impossible by construction.
type Cache struct {
	mu        sync.RWMutex
	refreshMu sync.Mutex
	entries   map[string]cacheEntry
	ttl       time.Duration
	grace     time.Duration
	logger    *logging.Logger
	now       func() time.Time
}

// EntryInfo is a read-only freshness snapshot for health reporting.
type EntryInfo struct {
	Age         time.Duration
	Fresh       bool
	StaleUsable bool
	FetchedAt   time.Time
}

func NewCache(ttl, grace time.Duration, logger *logging.Logger) *Cache {
	if logger == nil {
		logger = logging.Default()
	}
	return &Cache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		grace:   grace,
		logger:  logger,
		now:     time.Now,
	}
}

// GetOrFetch returns the cached value for key when fresh, otherwise
// refreshes it through fetch. On fetch failure a stale entry still
// within the grace period is served instead of the error. ttl <= 0
// selects the cache default.
func (c *Cache) GetOrFetch(ctx context.Context, key string, ttl time.Duration, fetch FetchFunc) (any, error) {
	if ttl <= 0 {
		ttl = c.ttl
	}

	if entry, ok := c.lookup(key); ok && c.isFresh(entry) {
		c.logger.DebugContext(ctx, "cache hit", "key", key, "age", c.age(entry).String())
		return entry.value, nil
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// Double-check after acquiring the lock: another caller may have
	// refreshed this key (or any key) while we waited.
	entry, hadPrev := c.lookup(key)
	if hadPrev && c.isFresh(entry) {
		return entry.value, nil
	}

	if hadPrev {
		c.logger.InfoContext(ctx, "cache stale, refreshing", "key", key, "age", c.age(entry).String())
	} else {
		c.logger.InfoContext(ctx, "cache miss, fetching", "key", key)
	}

	value, err := fetch(ctx)
	if err != nil {
		if hadPrev && c.isStaleUsable(entry) {
			c.logger.WarnContext(ctx, "fetch failed, serving stale value",
				"key", key,
				"age", c.age(entry).String(),
				"error", err,
			)
			return entry.value, nil
		}
		c.logger.ErrorContext(ctx, "fetch failed with no usable cache", "key", key, "error", err)
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = cacheEntry{value: value, fetchedAt: c.now(), ttl: ttl}
	c.mu.Unlock()

	return value, nil
}

// Invalidate drops one entry.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// InvalidateAll drops every entry.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

// EntryInfo reports freshness metadata for key, false when absent.
func (c *Cache) EntryInfo(key string) (EntryInfo, bool) {
	entry, ok := c.lookup(key)
	if !ok {
		return EntryInfo{}, false
	}
	return EntryInfo{
		Age:         c.age(entry),
		Fresh:       c.isFresh(entry),
		StaleUsable: c.isStaleUsable(entry),
		FetchedAt:   entry.fetchedAt,
	}, true
}

// Keys lists cached keys in stable order.
func (c *Cache) Keys() []string {
	c.mu.RLock()
	out := make([]string, 0, len(c.entries))
	for key := range c.entries {
		out = append(out, key)
	}
	c.mu.RUnlock()

	sort.Strings(out)
	return out
}

func (c *Cache) lookup(key string) (cacheEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[key]
	return entry, ok
}

func (c *Cache) age(entry cacheEntry) time.Duration {
	return c.now().Sub(entry.fetchedAt)
}

func (c *Cache) isFresh(entry cacheEntry) bool {
	return c.age(entry) < entry.ttl
}

func (c *Cache) isStaleUsable(entry cacheEntry) bool {
	return c.age(entry) < entry.ttl+c.grace
}

// Package metacache caches expensive-to-compute service metadata, such as the
// list of available content categories, with time-based invalidation.
//
// A [Cache] is constructed explicitly by the worker process and injected into
// the components that need it. There is no package-level instance.
package metacache

import (
	"sync"
	"time"
)

type entry struct {
	value    any
	cachedAt time.Time
}

// Cache maps a domain name (e.g. "music", "story") to a value plus the
// monotonic time it was stored. Entries are overwritten wholesale; readers
// always observe a consistent (value, timestamp) pair. Validity is evaluated
// against the current time on every call, never stored.
//
// Cache is safe for concurrent use; reads do not block each other.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry

	// now is swappable for tests.
	now func() time.Time
}

// New creates an empty Cache.
func New() *Cache {
	return &Cache{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Put stores value for domain, replacing any prior entry entirely and
// resetting the entry's timestamp.
func (c *Cache) Put(domain string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[domain] = entry{value: value, cachedAt: c.now()}
}

// Get returns the stored value for domain. The second result is false when no
// entry exists. Get ignores age: stale entries are still returned, and it is
// the caller's job to consult IsValid first when freshness matters.
func (c *Cache) Get(domain string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[domain]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// IsValid reports whether domain has an entry younger than maxAge. An absent
// entry is invalid. A zero or negative maxAge means every entry is stale.
func (c *Cache) IsValid(domain string, maxAge time.Duration) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[domain]
	if !ok {
		return false
	}
	return c.now().Sub(e.cachedAt) < maxAge
}

// Age returns how long ago the entry for domain was stored. The second result
// is false when no entry exists.
func (c *Cache) Age(domain string) (time.Duration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[domain]
	if !ok {
		return 0, false
	}
	return c.now().Sub(e.cachedAt), true
}

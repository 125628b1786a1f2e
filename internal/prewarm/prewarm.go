// Package prewarm holds expensive one-time-loaded resources, such as the
// voice-activity detector, so that per-session latency excludes load time.
//
// A [Cache] is constructed explicitly by the worker process and passed to
// every session. There is no package-level instance.
package prewarm

import (
	"fmt"
	"sync"
)

// Loader produces the resource for a cache key. It runs at most once per key
// for the lifetime of the Cache, unless it fails.
type Loader[T any] func() (T, error)

type entry[T any] struct {
	mu    sync.Mutex
	done  bool
	value T
}

// Cache is a keyed once-loader. The first Ensure call for a key invokes the
// loader; every later call, including calls racing with the first, returns the
// already-loaded value without re-invoking the loader. Loaded values are
// treated as immutable and shared read-only across sessions.
//
// A failed load is not cached: the next Ensure for that key retries with its
// own loader, so a transient startup failure does not poison the process.
//
// Cache is safe for concurrent use.
type Cache[T any] struct {
	mu      sync.Mutex
	entries map[string]*entry[T]
}

// New creates an empty Cache.
func New[T any]() *Cache[T] {
	return &Cache[T]{entries: make(map[string]*entry[T])}
}

// Ensure returns the resource for name, invoking loader to produce it if no
// prior successful load exists. Concurrent callers for the same name share a
// single in-flight load; all of them observe the same outcome.
func (c *Cache[T]) Ensure(name string, loader Loader[T]) (T, error) {
	c.mu.Lock()
	e, ok := c.entries[name]
	if !ok {
		e = &entry[T]{}
		c.entries[name] = e
	}
	c.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.done {
		return e.value, nil
	}

	value, err := loader()
	if err != nil {
		// Drop the failed entry so a later Ensure can retry.
		c.mu.Lock()
		if c.entries[name] == e {
			delete(c.entries, name)
		}
		c.mu.Unlock()
		var zero T
		return zero, fmt.Errorf("prewarm %q: %w", name, err)
	}
	e.value = value
	e.done = true
	return e.value, nil
}

// Get returns the resource for name if a successful load exists. It never
// triggers a load.
func (c *Cache[T]) Get(name string) (T, bool) {
	c.mu.Lock()
	e, ok := c.entries[name]
	c.mu.Unlock()
	if !ok {
		var zero T
		return zero, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.done {
		var zero T
		return zero, false
	}
	return e.value, true
}

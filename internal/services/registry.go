// Package services – keyed get-or-create cache.
//
// Every registry (portal, puppet, user) follows the same discipline:
// process-local cache keyed by an external identifier, with the create
// path serialized per key so that two concurrent deliveries referencing
// the same new identifier produce exactly one insert. Callers for
// different keys never contend with each other.
package services

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// keyedCache is a concurrent map from string keys to shared handles,
// with a singleflight group collapsing concurrent loads of the same
// key. Values are cached only on successful load, so a failed or
// not-found lookup does not poison the cache.
type keyedCache[V any] struct {
	mu    sync.RWMutex
	items map[string]V
	group singleflight.Group
}

func newKeyedCache[V any]() *keyedCache[V] {
	return &keyedCache[V]{items: make(map[string]V)}
}

// peek returns the cached handle for key, if any.
func (c *keyedCache[V]) peek(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[key]
	return v, ok
}

// store caches a handle under key. Only the owning service calls this,
// strictly as a side effect of its get-or-create path.
func (c *keyedCache[V]) store(key string, v V) {
	c.mu.Lock()
	c.items[key] = v
	c.mu.Unlock()
}

// getOrLoad returns the cached handle for key, or runs load exactly
// once per concurrent wave and caches its result. The second concurrent
// caller blocks until the first caller's cache write completes and then
// observes the shared handle.
func (c *keyedCache[V]) getOrLoad(key string, load func() (V, error)) (V, error) {
	if v, ok := c.peek(key); ok {
		return v, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check under the flight: a previous flight may have
		// populated the cache between peek and Do.
		if v, ok := c.peek(key); ok {
			return v, nil
		}
		v, err := load()
		if err != nil {
			return nil, err
		}
		c.store(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

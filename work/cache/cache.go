package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"iptv-catalog/work/metrics"
)

// Cache holds a single source-derived value with a TTL. The slot tracks
// which source it was built from, so switching sources invalidates it.
// Readers never see a partially written value; the slot is replaced
// atomically under the write lock, and concurrent refreshes of an
// expired slot collapse into one loader call.
type Cache[T any] struct {
	mu        sync.RWMutex
	name      string
	source    string
	value     T
	fetchedAt time.Time
	ttl       time.Duration
	group     singleflight.Group
	loader    func(ctx context.Context, source string) (T, error)
}

// New builds a cache around loader. The loader runs at most once per
// expiry regardless of caller count.
func New[T any](name string, ttl time.Duration, loader func(ctx context.Context, source string) (T, error)) *Cache[T] {
	return &Cache[T]{
		name:   name,
		ttl:    ttl,
		loader: loader,
	}
}

// Get returns the cached value for source, rebuilding it through the
// loader if force is set, the slot is empty or expired, or the slot was
// built from a different source. A failed refresh leaves any previous
// value untouched and returns the loader's error.
func (c *Cache[T]) Get(ctx context.Context, source string, force bool) (T, error) {
	if !force {
		c.mu.RLock()
		if c.fresh(source) {
			value := c.value
			c.mu.RUnlock()
			metrics.CacheRequests.WithLabelValues(c.name, "hit").Inc()
			return value, nil
		}
		c.mu.RUnlock()
	}

	metrics.CacheRequests.WithLabelValues(c.name, "miss").Inc()

	value, err, _ := c.group.Do(source, func() (any, error) {
		if !force {
			c.mu.RLock()
			if c.fresh(source) {
				v := c.value
				c.mu.RUnlock()
				return v, nil
			}
			c.mu.RUnlock()
		}

		fresh, err := c.loader(ctx, source)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.source = source
		c.value = fresh
		c.fetchedAt = time.Now()
		c.mu.Unlock()

		return fresh, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return value.(T), nil
}

// Invalidate clears the slot so the next Get refreshes.
func (c *Cache[T]) Invalidate() {
	c.mu.Lock()
	var zero T
	c.source = ""
	c.value = zero
	c.fetchedAt = time.Time{}
	c.mu.Unlock()
}

// fresh reports whether the slot holds an unexpired value for source.
// Caller must hold at least a read lock.
func (c *Cache[T]) fresh(source string) bool {
	return c.source == source && !c.fetchedAt.IsZero() && time.Since(c.fetchedAt) < c.ttl
}

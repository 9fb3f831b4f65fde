package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// FetchFunc loads the full collection from its source.
type FetchFunc[T any] func(ctx context.Context) ([]T, error)

// Collection caches a remotely sourced list. The first GetOrFetch after
// construction or Invalidate triggers one fetch; concurrent callers wait on
// that same fetch instead of issuing their own.
type Collection[T any] struct {
	name  string
	fetch FetchFunc[T]

	mu        sync.RWMutex
	items     []T
	loaded    bool
	fetchedAt time.Time
	// generation is bumped by Invalidate so a fetch that started before the
	// invalidation does not repopulate the cache with stale data.
	generation uint64

	group singleflight.Group
}

// NewCollection creates an empty cache for the named collection.
func NewCollection[T any](name string, fetch FetchFunc[T]) *Collection[T] {
	return &Collection[T]{name: name, fetch: fetch}
}

// GetOrFetch returns the cached items, fetching them on a miss.
//
// The fetch runs detached from the first caller's cancellation so that one
// caller giving up does not fail every waiter; each caller still stops
// waiting when its own ctx is done.
func (c *Collection[T]) GetOrFetch(ctx context.Context) ([]T, error) {
	c.mu.RLock()
	if c.loaded {
		items := c.items
		c.mu.RUnlock()
		return items, nil
	}
	gen := c.generation
	c.mu.RUnlock()

	ch := c.group.DoChan(c.name, func() (any, error) {
		items, err := c.fetch(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.generation == gen {
			c.items = items
			c.loaded = true
			c.fetchedAt = time.Now()
		}
		return items, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]T), nil
	}
}

// Invalidate drops the cached items; the next GetOrFetch refetches.
func (c *Collection[T]) Invalidate() {
	c.mu.Lock()
	c.items = nil
	c.loaded = false
	c.generation++
	c.mu.Unlock()
	c.group.Forget(c.name)
}

// Set replaces the cached items without fetching.
func (c *Collection[T]) Set(items []T) {
	c.mu.Lock()
	c.items = items
	c.loaded = true
	c.fetchedAt = time.Now()
	c.generation++
	c.mu.Unlock()
	c.group.Forget(c.name)
}

// FetchedAt returns when the cache was last populated, zero if empty.
func (c *Collection[T]) FetchedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.loaded {
		return time.Time{}
	}
	return c.fetchedAt
}

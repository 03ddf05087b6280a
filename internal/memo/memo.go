// Package memo provides a process-lifetime keyed cache with get-or-compute-once
// semantics, used to bound calls to rate-limited upstreams.
package memo

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"
)

type entry[V any] struct {
	value V
	err   error
}

// Cache memoizes the outcome of a computation per key. Concurrent callers for
// the same key share one in-flight computation. Errors are cached like values,
// except context cancellation which is never remembered.
type Cache[K comparable, V any] struct {
	mu      sync.RWMutex
	entries map[K]entry[V]
	group   singleflight.Group
}

// New creates an empty cache.
func New[K comparable, V any]() *Cache[K, V] {
	return &Cache[K, V]{entries: make(map[K]entry[V])}
}

// Get returns the cached outcome for key or computes it with fn. fn runs
// detached from the caller's cancellation because other callers may be waiting
// on the same computation; a cancelled caller returns early without it.
func (c *Cache[K, V]) Get(ctx context.Context, key K, fn func(context.Context) (V, error)) (V, error) {
	if e, ok := c.lookup(key); ok {
		return e.value, e.err
	}

	ch := c.group.DoChan(fmt.Sprint(key), func() (any, error) {
		if e, ok := c.lookup(key); ok {
			return e, nil
		}
		v, err := fn(context.WithoutCancel(ctx))
		e := entry[V]{value: v, err: err}
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			c.mu.Lock()
			c.entries[key] = e
			c.mu.Unlock()
		}
		return e, nil
	})

	select {
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	case res := <-ch:
		e := res.Val.(entry[V])
		return e.value, e.err
	}
}

// Peek returns a cached outcome without computing it.
func (c *Cache[K, V]) Peek(key K) (V, error, bool) {
	e, ok := c.lookup(key)
	return e.value, e.err, ok
}

// Len returns the number of cached keys.
func (c *Cache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache[K, V]) lookup(key K) (entry[V], bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	return e, ok
}

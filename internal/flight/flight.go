// Package flight coalesces concurrent expensive computations: at most one
// execution per key is in flight, late arrivals attach to it, and failures
// degrade to the last known good result instead of propagating.
package flight

import (
	"context"
	"sync"
	"sync/atomic"

	"quill/internal/logging"

	"golang.org/x/sync/singleflight"
)

// Computation deduplicates concurrent invocations per key. A failing or
// empty computation never surfaces an error to callers: they receive the
// last non-empty successful result, or the fixed fallback when no call
// has ever succeeded.
type Computation[T any] struct {
	group    singleflight.Group
	mu       sync.RWMutex
	lastGood map[string]T
	calls    atomic.Int64
	fallback T
	isEmpty  func(T) bool
}

// New creates a Computation with a fixed fallback value and an emptiness
// predicate. A nil predicate treats every successful result as non-empty.
func New[T any](fallback T, isEmpty func(T) bool) *Computation[T] {
	if isEmpty == nil {
		isEmpty = func(T) bool { return false }
	}
	return &Computation[T]{
		lastGood: make(map[string]T),
		fallback: fallback,
		isEmpty:  isEmpty,
	}
}

// Invoke runs fn for key, coalescing concurrent callers onto one
// execution. All callers attached to the same execution receive the same
// result. The underlying error is logged, never returned.
func (c *Computation[T]) Invoke(ctx context.Context, key string, fn func(context.Context) (T, error)) T {
	call := c.calls.Add(1)
	logging.Get(logging.CategorySuggest).Debug("flight call #%d key=%s", call, key)

	result, err, shared := c.group.Do(key, func() (interface{}, error) {
		return fn(ctx)
	})
	if shared {
		logging.Get(logging.CategorySuggest).Debug("flight call #%d key=%s attached to in-flight execution", call, key)
	}

	if err == nil {
		value := result.(T)
		if !c.isEmpty(value) {
			c.mu.Lock()
			c.lastGood[key] = value
			c.mu.Unlock()
			return value
		}
		logging.Get(logging.CategorySuggest).Warn("flight key=%s returned empty result, degrading to cache", key)
	} else {
		logging.Get(logging.CategorySuggest).Warn("flight key=%s failed, degrading to cache: %v", key, err)
	}

	c.mu.RLock()
	cached, ok := c.lastGood[key]
	c.mu.RUnlock()
	if ok {
		return cached
	}
	return c.fallback
}

// Calls returns the monotonically increasing invocation counter.
// Diagnostics only; not used for correctness.
func (c *Computation[T]) Calls() int64 {
	return c.calls.Load()
}

// LastGood returns the cached last successful result for key.
func (c *Computation[T]) LastGood(key string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.lastGood[key]
	return v, ok
}

// Forget drops the cached result and any in-flight coalescing for key.
func (c *Computation[T]) Forget(key string) {
	c.group.Forget(key)
	c.mu.Lock()
	delete(c.lastGood, key)
	c.mu.Unlock()
}

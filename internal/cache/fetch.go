package cache

import (
	"context"
	"fmt"
)

// Loader produces the authoritative value for one key.
type Loader[T any] func(ctx context.Context) (T, error)

type fetchMode int

const (
	// modeRead returns fresh values and joins pending fetches.
	modeRead fetchMode = iota
	// modeRefresh always goes to the network unless a fetch is already pending.
	modeRefresh
	// modeSupersede issues a new generation even over a pending fetch.
	modeSupersede
)

// Fetch is the read-through path: a fresh value is returned as is, a pending
// fetch is joined, and an empty or stale entry issues a new fetch. A key held
// by a mutation returns its current (speculative) value.
//
// The loader runs detached from ctx so that one waiter giving up does not
// fail the others; ctx only bounds how long this caller waits.
func Fetch[T any](ctx context.Context, c *Cache, key Key, load Loader[T]) (T, error) {
	return run(ctx, c, key, modeRead, load)
}

// Refresh fetches key from the network even when it is fresh. It joins a
// fetch that is already pending.
func Refresh[T any](ctx context.Context, c *Cache, key Key, load Loader[T]) (T, error) {
	return run(ctx, c, key, modeRefresh, load)
}

// Supersede issues a new fetch for key, abandoning any pending one. The
// abandoned fetch may still finish but its result is never committed.
func Supersede[T any](ctx context.Context, c *Cache, key Key, load Loader[T]) (T, error) {
	return run(ctx, c, key, modeSupersede, load)
}

// Lookup returns the cached value of key as T along with its entry.
func Lookup[T any](c *Cache, key Key) (T, Entry) {
	e := c.Get(key)
	v, _ := e.Value.(T)
	return v, e
}

func run[T any](ctx context.Context, c *Cache, key Key, mode fetchMode, load Loader[T]) (T, error) {
	var zero T

	ch, ready, ok := c.begin(ctx, key, mode, func(ctx context.Context) (any, error) {
		return load(ctx)
	})
	if ok {
		v, _ := ready.(T)
		return v, nil
	}

	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		if res.Val == nil {
			return zero, nil
		}
		v, ok := res.Val.(T)
		if !ok {
			return zero, fmt.Errorf("cache: %s holds %T, not %T", key, res.Val, zero)
		}
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

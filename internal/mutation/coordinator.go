// Package mutation applies state-changing operations optimistically: the
// predicted result is visible at once and is either confirmed by a refetch
// or rolled back to an exact snapshot.
package mutation

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"feedsync/internal/cache"
)

// Plan describes one mutation.
type Plan struct {
	Name string

	// Keys are every cache key the mutation touches. They are locked,
	// snapshotted and, on success, invalidated.
	Keys []cache.Key

	// Prepare runs once the keys are locked and before anything is applied.
	// It may read through the cache and reject the mutation.
	Prepare func(ctx context.Context) error

	// Predict computes the speculative value of touched keys from the
	// snapshot. It must be pure and must not edit snapshot values.
	Predict func(s cache.Snapshot) map[cache.Key]any

	// Dispatch issues the remote call. It is called exactly once.
	Dispatch func(ctx context.Context) error

	// Invalidate and InvalidatePrefixes name extra entries to mark stale on
	// success, typically lists that embed a touched entity.
	Invalidate         []cache.Key
	InvalidatePrefixes []string

	// Ephemeral keys only exist for the duration of the mutation and are
	// removed once it settles.
	Ephemeral []cache.Key
}

type keyLock struct {
	sem  *semaphore.Weighted
	refs int
}

// Coordinator runs plans against one cache. Mutations that share a key run
// one after the other; mutations on disjoint keys run concurrently.
type Coordinator struct {
	cache  *cache.Cache
	logger *zap.Logger

	mu    sync.Mutex
	locks map[cache.Key]*keyLock
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(c *cache.Cache, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		cache:  c,
		logger: logger,
		locks:  make(map[cache.Key]*keyLock),
	}
}

// Run executes the plan: lock, prepare, hold, snapshot, apply the
// prediction, dispatch, then invalidate on success or restore the snapshot
// on failure. A failed dispatch is never retried.
func (co *Coordinator) Run(ctx context.Context, p Plan) error {
	id := uuid.NewString()
	keys := uniqueSorted(p.Keys)
	logger := co.logger.With(zap.String("mutation", p.Name), zap.String("mutation_id", id))

	unlock, err := co.lock(ctx, keys)
	if err != nil {
		return fmt.Errorf("%s: wait for pending mutation: %w", p.Name, err)
	}
	defer unlock()

	if p.Prepare != nil {
		if err := p.Prepare(ctx); err != nil {
			logger.Debug("[Mutation] Prepare rejected", zap.Error(err))
			return err
		}
	}

	co.cache.Hold(keys...)
	defer co.cache.Release(keys...)

	snap := co.cache.Snapshot(keys...)

	if p.Predict != nil {
		predicted := p.Predict(snap)
		for key, v := range predicted {
			if _, found := slices.BinarySearch(keys, key); !found {
				co.cache.Restore(snap)
				return fmt.Errorf("%s: prediction for untouched key %s", p.Name, key)
			}
			co.cache.Put(key, v)
		}
	}

	start := time.Now()
	if err := p.Dispatch(ctx); err != nil {
		co.cache.Restore(snap)
		co.cache.Remove(p.Ephemeral...)
		logger.Warn("[Mutation] Dispatch FAILED: rolled back",
			zap.Strings("keys", keyStrings(keys)),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return fmt.Errorf("%s: %w", p.Name, err)
	}

	co.cache.Remove(p.Ephemeral...)
	stale := make([]cache.Key, 0, len(keys)+len(p.Invalidate))
	for _, k := range keys {
		if !slices.Contains(p.Ephemeral, k) {
			stale = append(stale, k)
		}
	}
	stale = append(stale, p.Invalidate...)
	co.cache.Invalidate(stale...)
	for _, prefix := range p.InvalidatePrefixes {
		co.cache.InvalidatePrefix(prefix)
	}

	logger.Info("[Mutation] Dispatch OK",
		zap.Strings("keys", keyStrings(keys)),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// lock acquires the per-key locks in key order so that overlapping
// mutations cannot deadlock.
func (co *Coordinator) lock(ctx context.Context, keys []cache.Key) (func(), error) {
	held := make([]cache.Key, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			co.unlockKey(held[i])
		}
	}

	for _, key := range keys {
		l := co.ref(key)
		if err := l.sem.Acquire(ctx, 1); err != nil {
			co.unref(key)
			release()
			return nil, err
		}
		held = append(held, key)
	}
	return release, nil
}

func (co *Coordinator) ref(key cache.Key) *keyLock {
	co.mu.Lock()
	defer co.mu.Unlock()

	l, ok := co.locks[key]
	if !ok {
		l = &keyLock{sem: semaphore.NewWeighted(1)}
		co.locks[key] = l
	}
	l.refs++
	return l
}

func (co *Coordinator) unref(key cache.Key) {
	co.mu.Lock()
	defer co.mu.Unlock()

	l := co.locks[key]
	l.refs--
	if l.refs == 0 {
		delete(co.locks, key)
	}
}

func (co *Coordinator) unlockKey(key cache.Key) {
	co.mu.Lock()
	l := co.locks[key]
	co.mu.Unlock()

	l.sem.Release(1)
	co.unref(key)
}

func uniqueSorted(keys []cache.Key) []cache.Key {
	out := slices.Clone(keys)
	slices.Sort(out)
	return slices.Compact(out)
}

func keyStrings(keys []cache.Key) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = string(k)
	}
	return out
}

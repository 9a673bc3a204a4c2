// Package query drives reads over time: the first fetch, periodic refresh
// while someone is interested, and the loading/error/data state of a key.
package query

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"feedsync/internal/cache"
)

// DefaultFeedRefresh is the refresh interval of feed pages.
const DefaultFeedRefresh = 30 * time.Second

// Options tune one query.
type Options struct {
	// RefreshInterval re-issues the fetch while the query is active. Zero
	// means the query is only fetched on demand.
	RefreshInterval time.Duration

	// IdleAfter ends interest in a query nobody touched for this long. Zero
	// keeps it active until Deactivate.
	IdleAfter time.Duration
}

// State is the view of a query's entry handed to consumers.
type State[T any] struct {
	Data       T
	HasData    bool
	Status     cache.Status
	IsLoading  bool // pending with nothing to show yet
	IsFetching bool
	IsError    bool
	Err        error
	UpdatedAt  time.Time
}

// Coordinator creates queries over one cache and schedules their refreshes.
type Coordinator struct {
	cache  *cache.Cache
	sched  *Scheduler
	logger *zap.Logger
	nextID atomic.Uint64
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(c *cache.Cache, sched *Scheduler, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{cache: c, sched: sched, logger: logger}
}

// Cache returns the underlying cache.
func (co *Coordinator) Cache() *cache.Cache { return co.cache }

type binding[T any] struct {
	key  cache.Key
	load cache.Loader[T]
}

// Query is one consumer's interest in a key.
type Query[T any] struct {
	co   *Coordinator
	id   uint64
	opts Options

	mu          sync.Mutex
	b           binding[T]
	active      bool
	lastTouch   time.Time
	nextRefresh time.Time
}

// Watch creates an inactive query for key.
func Watch[T any](co *Coordinator, key cache.Key, load cache.Loader[T], opts Options) *Query[T] {
	return &Query[T]{
		co:   co,
		id:   co.nextID.Add(1),
		opts: opts,
		b:    binding[T]{key: key, load: load},
	}
}

// Activate registers interest and issues the initial fetch.
func (q *Query[T]) Activate(ctx context.Context) (T, error) {
	now := q.co.sched.now()
	q.mu.Lock()
	q.active = true
	q.lastTouch = now
	q.nextRefresh = now.Add(q.opts.RefreshInterval)
	b := q.b
	q.mu.Unlock()

	q.co.sched.add(q.id, q)
	q.co.logger.Debug("[Query] Activate", zap.String("query", q.describe()))
	return cache.Fetch(ctx, q.co.cache, b.key, b.load)
}

// Deactivate ends interest. A fetch already in flight still lands in the
// cache if its generation is current.
func (q *Query[T]) Deactivate() {
	q.expire()
	q.co.sched.remove(q.id)
}

// Active reports whether the query is registered for refreshes.
func (q *Query[T]) Active() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

// Touch records that a consumer still reads the query.
func (q *Query[T]) Touch() {
	now := q.co.sched.now()
	q.mu.Lock()
	q.lastTouch = now
	q.mu.Unlock()
}

// Key returns the key the query is currently bound to.
func (q *Query[T]) Key() cache.Key {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.b.key
}

// Await returns the data, fetching it if needed.
func (q *Query[T]) Await(ctx context.Context) (T, error) {
	q.Touch()
	b := q.binding()
	return cache.Fetch(ctx, q.co.cache, b.key, b.load)
}

// Refetch issues a new fetch that supersedes any pending one.
func (q *Query[T]) Refetch(ctx context.Context) (T, error) {
	q.Touch()
	b := q.binding()
	return cache.Supersede(ctx, q.co.cache, b.key, b.load)
}

// Rebind points the query at a new key, e.g. a different page. The old
// key's in-flight fetch can only ever land on the old key.
func (q *Query[T]) Rebind(ctx context.Context, key cache.Key, load cache.Loader[T]) (T, error) {
	q.mu.Lock()
	q.b = binding[T]{key: key, load: load}
	active := q.active
	q.lastTouch = q.co.sched.now()
	q.mu.Unlock()

	if !active {
		var zero T
		return zero, nil
	}
	return cache.Fetch(ctx, q.co.cache, key, load)
}

// State derives the consumer view from the cache entry.
func (q *Query[T]) State() State[T] {
	v, e := cache.Lookup[T](q.co.cache, q.Key())
	return State[T]{
		Data:       v,
		HasData:    e.HasValue,
		Status:     e.Status,
		IsLoading:  e.Status == cache.StatusPending && !e.HasValue,
		IsFetching: e.Status == cache.StatusPending,
		IsError:    e.Err != nil && e.Status != cache.StatusPending,
		Err:        e.Err,
		UpdatedAt:  e.UpdatedAt,
	}
}

func (q *Query[T]) binding() binding[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.b
}

func (q *Query[T]) due(now time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active && q.opts.RefreshInterval > 0 && !now.Before(q.nextRefresh)
}

func (q *Query[T]) idle(now time.Time) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.opts.IdleAfter > 0 && now.Sub(q.lastTouch) >= q.opts.IdleAfter
}

func (q *Query[T]) refresh(ctx context.Context, now time.Time) error {
	q.mu.Lock()
	q.nextRefresh = now.Add(q.opts.RefreshInterval)
	b := q.b
	q.mu.Unlock()

	_, err := cache.Refresh(ctx, q.co.cache, b.key, b.load)
	return err
}

func (q *Query[T]) expire() {
	q.mu.Lock()
	q.active = false
	q.mu.Unlock()
}

func (q *Query[T]) describe() string {
	return fmt.Sprintf("%d:%s", q.id, q.Key())
}

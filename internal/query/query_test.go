package query

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"feedsync/internal/cache"
)

// =============================================================================
// Helpers
// =============================================================================

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

type counter struct {
	calls atomic.Int32
	err   error
}

func (c *counter) Load(ctx context.Context) (int, error) {
	n := int(c.calls.Add(1))
	if c.err != nil {
		return 0, c.err
	}
	return n, nil
}

func newCoordinator(t *testing.T) (*Coordinator, *clock) {
	t.Helper()
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	c := cache.New(cache.WithClock(clk.Now))
	sched := NewScheduler(SchedulerConfig{Now: clk.Now}, nil)
	return NewCoordinator(c, sched, nil), clk
}

// =============================================================================
// Activation and state
// =============================================================================

func TestQuery_ActivateFetchesOnce(t *testing.T) {
	co, _ := newCoordinator(t)
	src := &counter{}
	q := Watch(co, "user:a", src.Load, Options{})

	v, err := q.Activate(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = q.Await(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 1, v)
	assert.Equal(t, int32(1), src.calls.Load())

	st := q.State()
	assert.True(t, st.HasData)
	assert.Equal(t, 1, st.Data)
	assert.Equal(t, cache.StatusFresh, st.Status)
	assert.False(t, st.IsLoading)
	assert.False(t, st.IsError)
}

func TestQuery_LoadingState(t *testing.T) {
	co, _ := newCoordinator(t)
	gate := make(chan struct{})
	q := Watch(co, "user:a", func(ctx context.Context) (string, error) {
		<-gate
		return "done", nil
	}, Options{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = q.Activate(context.Background())
	}()
	require.Eventually(t, func() bool { return q.State().IsLoading }, time.Second, time.Millisecond)
	assert.True(t, q.State().IsFetching)

	close(gate)
	<-done
	st := q.State()
	assert.False(t, st.IsLoading)
	assert.Equal(t, "done", st.Data)
}

func TestQuery_ErrorScopedToKey(t *testing.T) {
	co, _ := newCoordinator(t)
	errDown := errors.New("down")
	bad := Watch(co, "user:a", (&counter{err: errDown}).Load, Options{})
	good := Watch(co, "user:b", (&counter{}).Load, Options{})

	_, err := bad.Activate(t.Context())
	require.ErrorIs(t, err, errDown)
	_, err = good.Activate(t.Context())
	require.NoError(t, err)

	st := bad.State()
	assert.True(t, st.IsError)
	assert.ErrorIs(t, st.Err, errDown)
	assert.False(t, st.HasData)
	assert.False(t, good.State().IsError)
}

// =============================================================================
// Scheduling
// =============================================================================

func TestScheduler_RefreshesDueQueries(t *testing.T) {
	co, clk := newCoordinator(t)
	feed := &counter{}
	user := &counter{}
	feedQ := Watch(co, "posts:0:50", feed.Load, Options{RefreshInterval: DefaultFeedRefresh})
	userQ := Watch(co, "user:a", user.Load, Options{})

	_, err := feedQ.Activate(t.Context())
	require.NoError(t, err)
	_, err = userQ.Activate(t.Context())
	require.NoError(t, err)

	assert.Equal(t, 0, co.sched.Tick(t.Context(), clk.Advance(10*time.Second)))
	assert.Equal(t, int32(1), feed.calls.Load())

	assert.Equal(t, 1, co.sched.Tick(t.Context(), clk.Advance(20*time.Second)))
	assert.Equal(t, int32(2), feed.calls.Load())
	assert.Equal(t, 2, feedQ.State().Data)

	// the next refresh is a full interval later
	assert.Equal(t, 0, co.sched.Tick(t.Context(), clk.Advance(time.Second)))
	assert.Equal(t, 1, co.sched.Tick(t.Context(), clk.Advance(DefaultFeedRefresh)))

	assert.Equal(t, int32(1), user.calls.Load(), "on-demand queries are never refreshed")
}

func TestScheduler_DeactivatedQueryNotRefreshed(t *testing.T) {
	co, clk := newCoordinator(t)
	feed := &counter{}
	q := Watch(co, "posts:0:50", feed.Load, Options{RefreshInterval: time.Second})
	_, err := q.Activate(t.Context())
	require.NoError(t, err)

	q.Deactivate()

	assert.Equal(t, 0, co.sched.Tick(t.Context(), clk.Advance(time.Minute)))
	assert.Equal(t, int32(1), feed.calls.Load())
	assert.Equal(t, 0, co.sched.Len())
}

func TestScheduler_ExpiresIdleQueries(t *testing.T) {
	co, clk := newCoordinator(t)
	feed := &counter{}
	touched := Watch(co, "posts:0:50", feed.Load, Options{RefreshInterval: time.Minute, IdleAfter: 2 * time.Minute})
	forgotten := Watch(co, "posts:50:50", feed.Load, Options{RefreshInterval: time.Minute, IdleAfter: 2 * time.Minute})
	_, err := touched.Activate(t.Context())
	require.NoError(t, err)
	_, err = forgotten.Activate(t.Context())
	require.NoError(t, err)

	clk.Advance(90 * time.Second)
	touched.Touch()
	co.sched.Tick(t.Context(), clk.Advance(40*time.Second))

	assert.True(t, touched.Active())
	assert.False(t, forgotten.Active())
	assert.Equal(t, 1, co.sched.Len())
}

func TestScheduler_StartStop(t *testing.T) {
	c := cache.New()
	sched := NewScheduler(SchedulerConfig{Tick: 5 * time.Millisecond}, nil)
	co := NewCoordinator(c, sched, nil)
	src := &counter{}
	q := Watch(co, "posts:0:50", src.Load, Options{RefreshInterval: time.Millisecond})
	_, err := q.Activate(t.Context())
	require.NoError(t, err)

	sched.Start(t.Context())
	require.Eventually(t, func() bool { return src.calls.Load() >= 3 }, time.Second, time.Millisecond)
	sched.Stop()

	after := src.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, src.calls.Load())
}

// =============================================================================
// Supersession
// =============================================================================

func TestQuery_RebindIgnoresOldBinding(t *testing.T) {
	co, _ := newCoordinator(t)
	gate := make(chan struct{})
	q := Watch(co, "posts:0:50", func(ctx context.Context) (string, error) {
		<-gate
		return "page-0", nil
	}, Options{RefreshInterval: time.Minute})

	first := make(chan struct{})
	go func() {
		defer close(first)
		_, _ = q.Activate(context.Background())
	}()
	require.Eventually(t, func() bool { return q.State().IsFetching }, time.Second, time.Millisecond)

	v, err := q.Rebind(t.Context(), "posts:50:50", func(ctx context.Context) (string, error) {
		return "page-1", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "page-1", v)

	close(gate)
	<-first

	assert.Equal(t, cache.Key("posts:50:50"), q.Key())
	assert.Equal(t, "page-1", q.State().Data)
}

func TestQuery_RefetchSupersedesPending(t *testing.T) {
	co, _ := newCoordinator(t)
	gate := make(chan struct{})
	var slow atomic.Bool
	slow.Store(true)
	q := Watch(co, "user:a", func(ctx context.Context) (string, error) {
		if slow.Load() {
			<-gate
			return "old", nil
		}
		return "new", nil
	}, Options{})

	first := make(chan struct{})
	go func() {
		defer close(first)
		_, _ = q.Activate(context.Background())
	}()
	require.Eventually(t, func() bool { return q.State().IsFetching }, time.Second, time.Millisecond)

	slow.Store(false)
	v, err := q.Refetch(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "new", v)

	close(gate)
	<-first
	assert.Equal(t, "new", q.State().Data)
}

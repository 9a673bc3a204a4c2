package mutation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"feedsync/internal/cache"
	"feedsync/internal/gateway/gatewaytest"
	"feedsync/internal/model"
	"feedsync/internal/resource"
)

const (
	alice model.Identity = "alice"
	bob   model.Identity = "bob"
)

type fixture struct {
	fake  *gatewaytest.Fake
	cache *cache.Cache
	res   *resource.Set
	ops   *Ops
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	fake := gatewaytest.NewFake(alice)
	fake.AddUser(model.User{ID: alice, Username: "alice", AvatarEmoji: "🦊"})
	fake.AddUser(model.User{ID: bob, Username: "bob", AvatarEmoji: "🐼"})

	c := cache.New(cache.WithTTL(resource.PrefixPosts, cache.DefaultCollectionTTL))
	res := resource.NewSet(fake, c)
	logger, _ := zap.NewDevelopment()
	co := NewCoordinator(c, logger)
	ops := NewOps(co, fake, res, OpsConfig{PageSize: 10})
	return &fixture{fake: fake, cache: c, res: res, ops: ops}
}

// async runs fn in a goroutine and returns a channel with its result.
func async(fn func() error) <-chan error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	return done
}

func (f *fixture) waitCalls(t *testing.T, op gatewaytest.Op, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return f.fake.Calls(op) >= n }, time.Second, time.Millisecond)
}

func (f *fixture) user(t *testing.T, id model.Identity) *model.User {
	t.Helper()
	u, err := f.res.User(id).Fetch(t.Context(), f.cache)
	require.NoError(t, err)
	require.NotNil(t, u)
	return u
}

// =============================================================================
// Reactions
// =============================================================================

func TestReact_RollbackRestoresExactSnapshot(t *testing.T) {
	f := newFixture(t)
	post := f.fake.AddPost(bob, "hello", 5)
	_, err := f.res.Page(0, 10).Fetch(t.Context(), f.cache)
	require.NoError(t, err)

	release := f.fake.Block(gatewaytest.OpReactToPost)
	f.fake.FailNext(gatewaytest.OpReactToPost, nil)
	done := async(func() error { return f.ops.React(t.Context(), post.ID) })
	f.waitCalls(t, gatewaytest.OpReactToPost, 1)

	// speculative value is visible while in flight
	p, _ := f.res.Post(post.ID)
	assert.Equal(t, int64(6), p.ReactionCount)

	// an unrelated refresh lands while the mutation is in flight and sees a
	// newer remote baseline
	f.fake.SetReactions(post.ID, 9)
	_, err = f.res.Page(0, 10).Refresh(t.Context(), f.cache)
	require.NoError(t, err)
	p, _ = f.res.Post(post.ID)
	assert.Equal(t, int64(6), p.ReactionCount, "readers see the speculative value")

	// ACT
	release()
	err = <-done

	// ASSERT
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrTransport)
	p, _ = f.res.Post(post.ID)
	assert.Equal(t, int64(5), p.ReactionCount)
	assert.Equal(t, 1, f.fake.Calls(gatewaytest.OpReactToPost), "failed mutations are never retried")
}

func TestReact_SuccessRefetchesAuthoritativeValue(t *testing.T) {
	f := newFixture(t)
	post := f.fake.AddPost(bob, "hello", 5)
	_, err := f.res.Page(0, 10).Fetch(t.Context(), f.cache)
	require.NoError(t, err)
	fetches := f.fake.Calls(gatewaytest.OpFetchPosts)

	require.NoError(t, f.ops.React(t.Context(), post.ID))

	assert.Equal(t, cache.StatusStale, f.cache.Get(resource.PostKey(post.ID)).Status)
	assert.Equal(t, cache.StatusStale, f.cache.Get(resource.PostsKey(0, 10)).Status)

	// someone else reacted too; the refetch shows both
	f.fake.SetReactions(post.ID, 7)
	_, err = f.res.Page(0, 10).Fetch(t.Context(), f.cache)
	require.NoError(t, err)

	assert.Equal(t, fetches+1, f.fake.Calls(gatewaytest.OpFetchPosts))
	p, _ := f.res.Post(post.ID)
	assert.Equal(t, int64(7), p.ReactionCount)
}

func TestReact_ProvisionalPostRejected(t *testing.T) {
	f := newFixture(t)

	err := f.ops.React(t.Context(), -1)

	assert.ErrorIs(t, err, model.ErrValidation)
	assert.Equal(t, 0, f.fake.Calls(gatewaytest.OpReactToPost))
}

// =============================================================================
// Follow / Unfollow
// =============================================================================

func TestFollow_SpeculativeThenInvalidated(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, int64(0), f.user(t, bob).FollowersCount)
	_, err := f.res.Following(alice).Fetch(t.Context(), f.cache)
	require.NoError(t, err)

	release := f.fake.Block(gatewaytest.OpFollow)
	done := async(func() error { return f.ops.Follow(t.Context(), alice, bob) })
	f.waitCalls(t, gatewaytest.OpFollow, 1)

	target, _ := cache.Lookup[*model.User](f.cache, resource.UserKey(bob))
	assert.Equal(t, int64(1), target.FollowersCount)
	following, _ := cache.Lookup[model.FollowSet](f.cache, resource.FollowingKey(alice))
	assert.True(t, following.Contains(bob))

	release()
	require.NoError(t, <-done)

	// the next read goes to the network instead of reusing the prediction
	userFetches := f.fake.Calls(gatewaytest.OpFetchUser)
	assert.Equal(t, cache.StatusStale, f.cache.Get(resource.UserKey(bob)).Status)
	assert.Equal(t, int64(1), f.user(t, bob).FollowersCount)
	assert.Equal(t, userFetches+1, f.fake.Calls(gatewaytest.OpFetchUser))
}

func TestFollow_UncachedTargetStillReadableWhileInFlight(t *testing.T) {
	f := newFixture(t)
	f.fake.Connect("carol", bob)

	release := f.fake.Block(gatewaytest.OpFollow)
	done := async(func() error { return f.ops.Follow(t.Context(), alice, bob) })
	f.waitCalls(t, gatewaytest.OpFollow, 1)

	// nothing was cached for bob, so there is no prediction to show
	u, err := f.res.User(bob).Fetch(t.Context(), f.cache)
	require.NoError(t, err)
	require.NotNil(t, u, "a registered user must not read as unregistered")
	assert.Equal(t, "bob", u.Username)
	assert.Equal(t, 1, f.fake.Calls(gatewaytest.OpFetchUser))

	followers, err := f.res.Followers(bob).Fetch(t.Context(), f.cache)
	require.NoError(t, err)
	assert.Equal(t, model.FollowSet{"carol"}, followers)
	assert.Equal(t, 1, f.fake.Calls(gatewaytest.OpFetchFollowers))

	assert.False(t, f.cache.Get(resource.UserKey(bob)).HasValue, "reads of held keys are not cached")
	assert.False(t, f.cache.Get(resource.FollowersKey(bob)).HasValue)

	release()
	require.NoError(t, <-done)

	followers, err = f.res.Followers(bob).Fetch(t.Context(), f.cache)
	require.NoError(t, err)
	assert.True(t, followers.Contains(alice))
}

func TestFollowUnfollow_RoundTripRestoresState(t *testing.T) {
	f := newFixture(t)
	beforeFollowing, err := f.res.Following(alice).Fetch(t.Context(), f.cache)
	require.NoError(t, err)
	beforeFollowers := f.user(t, bob).FollowersCount

	require.NoError(t, f.ops.Follow(t.Context(), alice, bob))
	require.NoError(t, f.ops.Unfollow(t.Context(), alice, bob))

	following, err := f.res.Following(alice).Fetch(t.Context(), f.cache)
	require.NoError(t, err)
	assert.ElementsMatch(t, beforeFollowing, following)
	assert.Equal(t, beforeFollowers, f.user(t, bob).FollowersCount)
}

func TestFollow_FailureRollsBackEveryKey(t *testing.T) {
	f := newFixture(t)
	me := f.user(t, alice)
	target := f.user(t, bob)
	_, err := f.res.Following(alice).Fetch(t.Context(), f.cache)
	require.NoError(t, err)
	_, err = f.res.Followers(bob).Fetch(t.Context(), f.cache)
	require.NoError(t, err)
	f.fake.FailNext(gatewaytest.OpFollow, nil)

	err = f.ops.Follow(t.Context(), alice, bob)

	require.ErrorIs(t, err, gatewaytest.ErrUnavailable)
	assert.Equal(t, me.FollowingCount, f.user(t, alice).FollowingCount)
	assert.Equal(t, target.FollowersCount, f.user(t, bob).FollowersCount)
	following, _ := cache.Lookup[model.FollowSet](f.cache, resource.FollowingKey(alice))
	assert.False(t, following.Contains(bob))
	followers, _ := cache.Lookup[model.FollowSet](f.cache, resource.FollowersKey(bob))
	assert.False(t, followers.Contains(alice))
	assert.Equal(t, 1, f.fake.Calls(gatewaytest.OpFollow))
}

func TestFollow_RedundantCallRejectedBeforeNetwork(t *testing.T) {
	f := newFixture(t)
	f.fake.Connect(alice, bob)

	err := f.ops.Follow(t.Context(), alice, bob)

	assert.ErrorIs(t, err, model.ErrAlreadyFollowing)
	assert.ErrorIs(t, err, model.ErrValidation)
	assert.Equal(t, 0, f.fake.Calls(gatewaytest.OpFollow))
}

func TestUnfollow_NotFollowingRejectedBeforeNetwork(t *testing.T) {
	f := newFixture(t)

	err := f.ops.Unfollow(t.Context(), alice, bob)

	assert.ErrorIs(t, err, model.ErrNotFollowing)
	assert.Equal(t, 0, f.fake.Calls(gatewaytest.OpUnfollow))
}

func TestFollow_SelfRejected(t *testing.T) {
	f := newFixture(t)

	err := f.ops.Follow(t.Context(), alice, alice)

	assert.ErrorIs(t, err, model.ErrCannotFollowSelf)
	assert.Equal(t, 0, f.fake.Calls(gatewaytest.OpFetchFollowing))
	assert.Equal(t, 0, f.fake.Calls(gatewaytest.OpFollow))
}

func TestUnfollow_CountsNeverGoNegative(t *testing.T) {
	f := newFixture(t)
	f.fake.Connect(alice, bob)
	// a stale local copy that already shows zero
	f.cache.Put(resource.UserKey(bob), &model.User{ID: bob, FollowersCount: 0})

	release := f.fake.Block(gatewaytest.OpUnfollow)
	done := async(func() error { return f.ops.Unfollow(t.Context(), alice, bob) })
	f.waitCalls(t, gatewaytest.OpUnfollow, 1)

	u, _ := cache.Lookup[*model.User](f.cache, resource.UserKey(bob))
	assert.Equal(t, int64(0), u.FollowersCount)

	release()
	require.NoError(t, <-done)
}

// =============================================================================
// Serialization
// =============================================================================

func TestMutations_OnSameKeyAreSerialized(t *testing.T) {
	f := newFixture(t)
	_, err := f.res.Following(alice).Fetch(t.Context(), f.cache)
	require.NoError(t, err)

	release := f.fake.Block(gatewaytest.OpFollow)
	followDone := async(func() error { return f.ops.Follow(t.Context(), alice, bob) })
	f.waitCalls(t, gatewaytest.OpFollow, 1)
	followingReads := f.fake.Calls(gatewaytest.OpFetchFollowing)

	unfollowDone := async(func() error { return f.ops.Unfollow(t.Context(), alice, bob) })

	assert.Never(t, func() bool {
		return f.fake.Calls(gatewaytest.OpUnfollow) > 0 || f.fake.Calls(gatewaytest.OpFetchFollowing) > followingReads
	}, 50*time.Millisecond, 5*time.Millisecond, "second mutation must wait for the first to settle")

	release()
	require.NoError(t, <-followDone)
	require.NoError(t, <-unfollowDone)

	u, ok := f.fake.User(bob)
	require.True(t, ok)
	assert.Equal(t, int64(0), u.FollowersCount)
}

func TestMutations_OnDisjointKeysRunConcurrently(t *testing.T) {
	f := newFixture(t)
	post := f.fake.AddPost(bob, "p", 0)

	release := f.fake.Block(gatewaytest.OpFollow)
	defer release()
	followDone := async(func() error { return f.ops.Follow(t.Context(), alice, bob) })
	f.waitCalls(t, gatewaytest.OpFollow, 1)

	require.NoError(t, f.ops.React(t.Context(), post.ID))

	release()
	require.NoError(t, <-followDone)
}

func TestRun_LockWaitHonorsContext(t *testing.T) {
	f := newFixture(t)
	post := f.fake.AddPost(bob, "p", 0)

	release := f.fake.Block(gatewaytest.OpReactToPost)
	first := async(func() error { return f.ops.React(t.Context(), post.ID) })
	f.waitCalls(t, gatewaytest.OpReactToPost, 1)

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	err := f.ops.React(ctx, post.ID)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	release()
	require.NoError(t, <-first)
	assert.Equal(t, 1, f.fake.Calls(gatewaytest.OpReactToPost))
}

// =============================================================================
// Posts
// =============================================================================

func TestCreatePost_ProvisionalPostThenRefetch(t *testing.T) {
	f := newFixture(t)
	old := f.fake.AddPost(bob, "older", 0)
	_, err := f.res.Page(0, 10).Fetch(t.Context(), f.cache)
	require.NoError(t, err)

	release := f.fake.Block(gatewaytest.OpCreatePost)
	done := async(func() error {
		return f.ops.CreatePost(t.Context(), alice, model.CreatePostRequest{Content: "  new post  "})
	})
	f.waitCalls(t, gatewaytest.OpCreatePost, 1)

	page, _ := cache.Lookup[model.FeedPage](f.cache, resource.PostsKey(0, 10))
	require.Len(t, page.IDs, 2)
	assert.Less(t, page.IDs[0], int64(0))
	assert.Equal(t, old.ID, page.IDs[1])
	provisional, _ := f.res.Post(page.IDs[0])
	assert.True(t, provisional.Provisional)
	assert.Equal(t, "new post", provisional.Content)
	assert.Equal(t, alice, provisional.AuthorID)

	release()
	require.NoError(t, <-done)

	assert.Equal(t, cache.StatusEmpty, f.cache.Get(resource.PostKey(page.IDs[0])).Status)
	page, err = f.res.Page(0, 10).Fetch(t.Context(), f.cache)
	require.NoError(t, err)
	posts := f.res.Posts(page)
	require.Len(t, posts, 2)
	assert.Equal(t, "new post", posts[0].Content)
	assert.False(t, posts[0].Provisional)
	assert.Greater(t, posts[0].ID, int64(0))
}

func TestCreatePost_FailureRestoresPage(t *testing.T) {
	f := newFixture(t)
	f.fake.AddPost(bob, "older", 0)
	before, err := f.res.Page(0, 10).Fetch(t.Context(), f.cache)
	require.NoError(t, err)
	f.fake.FailNext(gatewaytest.OpCreatePost, nil)

	err = f.ops.CreatePost(t.Context(), alice, model.CreatePostRequest{Content: "draft"})

	require.ErrorIs(t, err, model.ErrTransport)
	after, e := cache.Lookup[model.FeedPage](f.cache, resource.PostsKey(0, 10))
	assert.Equal(t, before.IDs, after.IDs)
	assert.Equal(t, cache.StatusFresh, e.Status)
	assert.Equal(t, 1, f.fake.Calls(gatewaytest.OpCreatePost))
}

func TestCreatePost_ValidationBeforeNetwork(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		req  model.CreatePostRequest
	}{
		{"empty", model.CreatePostRequest{Content: "   "}},
		{"too long", model.CreatePostRequest{Content: strings.Repeat("a", model.MaxPostContentLength+1)}},
		{"image too large", model.CreatePostRequest{Content: "ok", Image: make([]byte, model.MaxPostImageBytes+1)}},
		{"bad image type", model.CreatePostRequest{Content: "ok", Image: []byte{1}, ContentType: "text/plain"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.ops.CreatePost(t.Context(), alice, tt.req)
			assert.ErrorIs(t, err, model.ErrValidation)
		})
	}
	assert.Equal(t, 0, f.fake.Calls(gatewaytest.OpCreatePost))
	assert.Equal(t, 0, f.cache.Len())
}

// =============================================================================
// Registration
// =============================================================================

func TestRegister_InvalidatesCurrentUser(t *testing.T) {
	f := newFixture(t)
	carol := model.Identity("carol")
	f.fake.SetCaller(carol)

	u, err := f.res.User(carol).Fetch(t.Context(), f.cache)
	require.NoError(t, err)
	require.Nil(t, u)

	require.NoError(t, f.ops.Register(t.Context(), carol, model.RegisterRequest{Username: " carol ", AvatarEmoji: "🐙"}))

	assert.Equal(t, cache.StatusStale, f.cache.Get(resource.UserKey(carol)).Status)
	u = f.user(t, carol)
	assert.Equal(t, "carol", u.Username)
}

func TestRegister_AlreadyRegistered(t *testing.T) {
	f := newFixture(t)

	err := f.ops.Register(t.Context(), alice, model.RegisterRequest{Username: "alice2", AvatarEmoji: "🐙"})

	assert.ErrorIs(t, err, model.ErrAlreadyRegistered)
	assert.Equal(t, 0, f.fake.Calls(gatewaytest.OpCreateUser))
}

func TestRegister_ValidationBeforeNetwork(t *testing.T) {
	f := newFixture(t)

	err := f.ops.Register(t.Context(), "carol", model.RegisterRequest{Username: "c", AvatarEmoji: "🐙"})
	assert.ErrorIs(t, err, model.ErrValidation)

	err = f.ops.Register(t.Context(), "carol", model.RegisterRequest{Username: "carol", AvatarEmoji: "x"})
	assert.ErrorIs(t, err, model.ErrValidation)

	assert.Equal(t, 0, f.fake.Calls(gatewaytest.OpFetchUser))
	assert.Equal(t, 0, f.fake.Calls(gatewaytest.OpCreateUser))
}

// =============================================================================
// Engine
// =============================================================================

func TestRun_PredictionOutsideTouchedKeysIsRejected(t *testing.T) {
	c := cache.New()
	co := NewCoordinator(c, nil)
	dispatched := false

	err := co.Run(t.Context(), Plan{
		Name: "bad",
		Keys: []cache.Key{"a"},
		Predict: func(s cache.Snapshot) map[cache.Key]any {
			return map[cache.Key]any{"a": 1, "b": 2}
		},
		Dispatch: func(ctx context.Context) error {
			dispatched = true
			return nil
		},
	})

	assert.Error(t, err)
	assert.False(t, dispatched)
	assert.False(t, c.Get("a").HasValue)
	assert.False(t, c.Get("b").HasValue)
}

func TestRun_PrepareErrorSkipsDispatch(t *testing.T) {
	c := cache.New()
	co := NewCoordinator(c, nil)
	errNope := errors.New("nope")
	dispatched := false

	err := co.Run(t.Context(), Plan{
		Name:     "rejected",
		Keys:     []cache.Key{"a"},
		Prepare:  func(ctx context.Context) error { return errNope },
		Dispatch: func(ctx context.Context) error { dispatched = true; return nil },
	})

	assert.ErrorIs(t, err, errNope)
	assert.False(t, dispatched)
	assert.False(t, c.Get("a").Held)
}

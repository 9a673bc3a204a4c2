package feed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"feedsync/internal/cache"
	"feedsync/internal/gateway/gatewaytest"
	"feedsync/internal/model"
	"feedsync/internal/resource"
)

func setup(t *testing.T) (*Assembler, *gatewaytest.Fake, *cache.Cache) {
	t.Helper()
	fake := gatewaytest.NewFake("alice")
	for _, id := range []model.Identity{"alice", "bob", "carol"} {
		fake.AddUser(model.User{ID: id, Username: string(id)})
	}
	c := cache.New()
	return NewAssembler(resource.NewSet(fake, c), 4, nil), fake, c
}

func tenPostsByThreeAuthors() []model.Post {
	authors := []model.Identity{"alice", "bob", "carol", "alice", "alice", "bob", "carol", "bob", "alice", "carol"}
	posts := make([]model.Post, len(authors))
	for i, a := range authors {
		posts[i] = model.Post{ID: int64(len(authors) - i), AuthorID: a}
	}
	return posts
}

func TestAssemble_OneFetchPerDistinctAuthor(t *testing.T) {
	a, fake, _ := setup(t)

	j := a.Assemble(t.Context(), tenPostsByThreeAuthors())
	require.NoError(t, j.Wait(t.Context()))

	assert.Equal(t, 3, fake.Calls(gatewaytest.OpFetchUser))
	assert.Len(t, j.Authors(), 3)
	for _, fp := range j.FeedPosts() {
		assert.True(t, fp.AuthorResolved)
		require.NotNil(t, fp.Author)
		assert.Equal(t, fp.AuthorID, fp.Author.ID)
	}
}

func TestAssemble_PostsUsableBeforeAuthorsResolve(t *testing.T) {
	a, fake, _ := setup(t)
	release := fake.Block(gatewaytest.OpFetchUser)

	j := a.Assemble(t.Context(), tenPostsByThreeAuthors())

	assert.Len(t, j.Posts(), 10)
	_, ok := j.Author("bob")
	assert.False(t, ok)
	for _, fp := range j.FeedPosts() {
		assert.False(t, fp.AuthorResolved)
	}

	release()
	require.NoError(t, j.Wait(t.Context()))
	_, ok = j.Author("bob")
	assert.True(t, ok)
}

func TestAssemble_ConcurrentJoinsShareFetches(t *testing.T) {
	a, fake, _ := setup(t)
	release := fake.Block(gatewaytest.OpFetchUser)

	j1 := a.Assemble(t.Context(), tenPostsByThreeAuthors())
	require.Eventually(t, func() bool { return fake.Calls(gatewaytest.OpFetchUser) == 3 }, time.Second, time.Millisecond)
	j2 := a.Assemble(t.Context(), tenPostsByThreeAuthors())

	release()
	require.NoError(t, j1.Wait(t.Context()))
	require.NoError(t, j2.Wait(t.Context()))
	assert.Equal(t, 3, fake.Calls(gatewaytest.OpFetchUser))
}

func TestAssemble_MissingAndFailingAuthorsResolveToNil(t *testing.T) {
	a, fake, _ := setup(t)
	fake.FailNext(gatewaytest.OpFetchUser, nil)
	posts := []model.Post{
		{ID: 3, AuthorID: "ghost"},
		{ID: 2, AuthorID: "ghost"},
		{ID: 1, AuthorID: "dave"},
	}

	j := a.Assemble(t.Context(), posts)
	require.NoError(t, j.Wait(t.Context()))

	for _, id := range []model.Identity{"ghost", "dave"} {
		u, ok := j.Author(id)
		assert.True(t, ok, id)
		assert.Nil(t, u, id)
	}
	assert.Len(t, j.FeedPosts(), 3)
}

func TestAssemble_CallerCancelLogsQuietlyAndStillFillsCache(t *testing.T) {
	fake := gatewaytest.NewFake("alice")
	for _, id := range []model.Identity{"alice", "bob", "carol"} {
		fake.AddUser(model.User{ID: id, Username: string(id)})
	}
	c := cache.New()
	core, logs := observer.New(zapcore.DebugLevel)
	a := NewAssembler(resource.NewSet(fake, c), 4, zap.New(core))
	release := fake.Block(gatewaytest.OpFetchUser)
	defer release()

	ctx, cancel := context.WithCancel(t.Context())
	j := a.Assemble(ctx, tenPostsByThreeAuthors())
	require.Eventually(t, func() bool { return fake.Calls(gatewaytest.OpFetchUser) == 3 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, j.Wait(t.Context()))

	assert.Zero(t, logs.FilterLevelExact(zapcore.WarnLevel).Len())
	assert.Equal(t, 3, logs.FilterMessage("[Feed] Author fetch abandoned").Len())

	release()
	require.Eventually(t, func() bool {
		return c.Get(resource.UserKey("bob")).HasValue
	}, time.Second, time.Millisecond)
	assert.Equal(t, 3, fake.Calls(gatewaytest.OpFetchUser))
}

func TestAssemble_CachedAuthorsSkipNetwork(t *testing.T) {
	a, fake, c := setup(t)
	c.Put(resource.UserKey("alice"), &model.User{ID: "alice"})
	c.Put(resource.UserKey("bob"), &model.User{ID: "bob"})

	j := a.Assemble(t.Context(), tenPostsByThreeAuthors())
	require.NoError(t, j.Wait(t.Context()))

	assert.Equal(t, 1, fake.Calls(gatewaytest.OpFetchUser))
}

func TestAssemble_Empty(t *testing.T) {
	a, _, _ := setup(t)

	j := a.Assemble(t.Context(), nil)

	select {
	case <-j.Done():
	default:
		t.Fatal("empty join should be done immediately")
	}
	assert.Empty(t, j.FeedPosts())
}

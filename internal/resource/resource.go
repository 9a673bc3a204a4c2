// Package resource names the cached remote resources and knows how to load
// each of them through the gateway.
package resource

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"feedsync/internal/cache"
	"feedsync/internal/gateway"
	"feedsync/internal/model"
)

// Key prefixes
const (
	PrefixUser      = "user:"
	PrefixPost      = "post:"
	PrefixPosts     = "posts:"
	PrefixFollowing = "following:"
	PrefixFollowers = "followers:"
)

// Resource pairs a cache key with the loader that produces its value.
type Resource[T any] struct {
	Key  cache.Key
	Load cache.Loader[T]
}

// Fetch reads the resource through c.
func (r Resource[T]) Fetch(ctx context.Context, c *cache.Cache) (T, error) {
	return cache.Fetch(ctx, c, r.Key, r.Load)
}

// Refresh forces a network read of the resource.
func (r Resource[T]) Refresh(ctx context.Context, c *cache.Cache) (T, error) {
	return cache.Refresh(ctx, c, r.Key, r.Load)
}

func UserKey(id model.Identity) cache.Key { return cache.Key(PrefixUser + string(id)) }

func PostKey(id int64) cache.Key { return cache.Key(PrefixPost + strconv.FormatInt(id, 10)) }

func PostsKey(offset, limit int) cache.Key {
	return cache.Key(fmt.Sprintf("%s%d:%d", PrefixPosts, offset, limit))
}

func FollowingKey(id model.Identity) cache.Key {
	return cache.Key(PrefixFollowing + string(id))
}

func FollowersKey(id model.Identity) cache.Key {
	return cache.Key(PrefixFollowers + string(id))
}

// ParsePostsKey returns the offset and limit encoded in a feed page key.
func ParsePostsKey(key cache.Key) (offset, limit int, ok bool) {
	rest, found := strings.CutPrefix(string(key), PrefixPosts)
	if !found {
		return 0, 0, false
	}
	a, b, found := strings.Cut(rest, ":")
	if !found {
		return 0, 0, false
	}
	offset, err1 := strconv.Atoi(a)
	limit, err2 := strconv.Atoi(b)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return offset, limit, true
}

// Set binds the resources to one gateway and cache.
type Set struct {
	gw    gateway.Gateway
	cache *cache.Cache
}

// NewSet creates the resource set.
func NewSet(gw gateway.Gateway, c *cache.Cache) *Set {
	return &Set{gw: gw, cache: c}
}

// User is the profile of id. A nil value means id is not registered.
func (s *Set) User(id model.Identity) Resource[*model.User] {
	return Resource[*model.User]{
		Key: UserKey(id),
		Load: func(ctx context.Context) (*model.User, error) {
			return s.gw.FetchUser(ctx, id)
		},
	}
}

// Page is one feed page. Loading it also stores every post under its own
// key, except posts a mutation currently owns.
func (s *Set) Page(offset, limit int) Resource[model.FeedPage] {
	return Resource[model.FeedPage]{
		Key: PostsKey(offset, limit),
		Load: func(ctx context.Context) (model.FeedPage, error) {
			posts, err := s.gw.FetchPosts(ctx, offset, limit)
			if err != nil {
				return model.FeedPage{}, err
			}
			page := model.FeedPage{Offset: offset, Limit: limit, IDs: make([]int64, 0, len(posts))}
			for _, p := range posts {
				page.IDs = append(page.IDs, p.ID)
				s.cache.Seed(PostKey(p.ID), p)
			}
			return page, nil
		},
	}
}

func (s *Set) Following(id model.Identity) Resource[model.FollowSet] {
	return Resource[model.FollowSet]{
		Key: FollowingKey(id),
		Load: func(ctx context.Context) (model.FollowSet, error) {
			return s.gw.FetchFollowing(ctx, id)
		},
	}
}

func (s *Set) Followers(id model.Identity) Resource[model.FollowSet] {
	return Resource[model.FollowSet]{
		Key: FollowersKey(id),
		Load: func(ctx context.Context) (model.FollowSet, error) {
			return s.gw.FetchFollowers(ctx, id)
		},
	}
}

// Post returns the cached copy of a post. Posts have no loader of their own:
// they arrive with the page that lists them.
func (s *Set) Post(id int64) (model.Post, cache.Entry) {
	return cache.Lookup[model.Post](s.cache, PostKey(id))
}

// Posts resolves the ids of a page to the cached posts, skipping ids whose
// entry is gone.
func (s *Set) Posts(page model.FeedPage) []model.Post {
	out := make([]model.Post, 0, len(page.IDs))
	for _, id := range page.IDs {
		p, e := s.Post(id)
		if !e.HasValue {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Cache returns the cache the set reads through.
func (s *Set) Cache() *cache.Cache { return s.cache }

package mutation

import (
	"context"
	"sync/atomic"
	"time"

	"feedsync/internal/cache"
	"feedsync/internal/gateway"
	"feedsync/internal/model"
	"feedsync/internal/resource"
)

// OpsConfig configures Ops.
type OpsConfig struct {
	// PageSize is the limit of the first feed page, where new posts appear.
	PageSize      int
	MaxImageBytes int
	Now           func() time.Time
}

// Ops are the mutations of the social feed.
type Ops struct {
	co     *Coordinator
	gw     gateway.Gateway
	res    *resource.Set
	cfg    OpsConfig
	tempID atomic.Int64
}

// NewOps creates the mutation set.
func NewOps(co *Coordinator, gw gateway.Gateway, res *resource.Set, cfg OpsConfig) *Ops {
	if cfg.PageSize <= 0 {
		cfg.PageSize = model.DefaultFeedPageSize
	}
	if cfg.MaxImageBytes <= 0 {
		cfg.MaxImageBytes = model.MaxPostImageBytes
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Ops{co: co, gw: gw, res: res, cfg: cfg}
}

// CreatePost shows a provisional post at the top of the first feed page
// until the remote confirms it.
func (o *Ops) CreatePost(ctx context.Context, me model.Identity, req model.CreatePostRequest) error {
	req, err := req.Normalize(o.cfg.MaxImageBytes)
	if err != nil {
		return err
	}

	tempID := -o.tempID.Add(1)
	pageKey := resource.PostsKey(0, o.cfg.PageSize)
	tempKey := resource.PostKey(tempID)
	provisional := model.Post{
		ID:          tempID,
		Content:     req.Content,
		Image:       req.Image,
		AuthorID:    me,
		Timestamp:   o.cfg.Now().UnixNano(),
		Provisional: true,
	}

	return o.co.Run(ctx, Plan{
		Name: "create post",
		Keys: []cache.Key{pageKey, tempKey},
		Predict: func(s cache.Snapshot) map[cache.Key]any {
			page, ok := cache.Value[model.FeedPage](s, pageKey)
			if !ok {
				page = model.FeedPage{Offset: 0, Limit: o.cfg.PageSize}
			}
			ids := make([]int64, 0, len(page.IDs)+1)
			ids = append(ids, tempID)
			ids = append(ids, page.IDs...)
			if len(ids) > page.Limit {
				ids = ids[:page.Limit]
			}
			page.IDs = ids
			return map[cache.Key]any{
				pageKey: page,
				tempKey: provisional,
			}
		},
		Dispatch: func(ctx context.Context) error {
			return o.gw.CreatePost(ctx, req)
		},
		InvalidatePrefixes: []string{resource.PrefixPosts},
		Ephemeral:          []cache.Key{tempKey},
	})
}

// React adds one reaction to a post.
func (o *Ops) React(ctx context.Context, postID int64) error {
	if postID <= 0 {
		return model.Invalid("post_id", "post is not confirmed yet")
	}
	key := resource.PostKey(postID)

	return o.co.Run(ctx, Plan{
		Name: "react",
		Keys: []cache.Key{key},
		Predict: func(s cache.Snapshot) map[cache.Key]any {
			p, ok := cache.Value[model.Post](s, key)
			if !ok {
				return nil
			}
			p.ReactionCount++
			return map[cache.Key]any{key: p}
		},
		Dispatch: func(ctx context.Context) error {
			return o.gw.ReactToPost(ctx, postID)
		},
		// posts are refreshed through the pages that list them
		InvalidatePrefixes: []string{resource.PrefixPosts},
	})
}

// Follow makes me follow target.
func (o *Ops) Follow(ctx context.Context, me, target model.Identity) error {
	return o.toggleFollow(ctx, me, target, true)
}

// Unfollow makes me stop following target.
func (o *Ops) Unfollow(ctx context.Context, me, target model.Identity) error {
	return o.toggleFollow(ctx, me, target, false)
}

func (o *Ops) toggleFollow(ctx context.Context, me, target model.Identity, follow bool) error {
	if me == target {
		return &model.ValidationError{Field: "user_id", Reason: model.ErrCannotFollowSelf.Error(), Cause: model.ErrCannotFollowSelf}
	}

	var (
		name  = "follow"
		delta = int64(1)
	)
	if !follow {
		name, delta = "unfollow", -1
	}

	meKey := resource.UserKey(me)
	targetKey := resource.UserKey(target)
	followingKey := resource.FollowingKey(me)
	followersKey := resource.FollowersKey(target)

	return o.co.Run(ctx, Plan{
		Name: name,
		Keys: []cache.Key{meKey, targetKey, followingKey, followersKey},
		Prepare: func(ctx context.Context) error {
			following, err := o.res.Following(me).Fetch(ctx, o.res.Cache())
			if err != nil {
				return err
			}
			switch {
			case follow && following.Contains(target):
				return &model.ValidationError{Field: "user_id", Reason: model.ErrAlreadyFollowing.Error(), Cause: model.ErrAlreadyFollowing}
			case !follow && !following.Contains(target):
				return &model.ValidationError{Field: "user_id", Reason: model.ErrNotFollowing.Error(), Cause: model.ErrNotFollowing}
			}
			return nil
		},
		Predict: func(s cache.Snapshot) map[cache.Key]any {
			out := make(map[cache.Key]any, 4)
			if u, ok := cache.Value[*model.User](s, meKey); ok && u != nil {
				next := *u
				next.FollowingCount = max(next.FollowingCount+delta, 0)
				out[meKey] = &next
			}
			if u, ok := cache.Value[*model.User](s, targetKey); ok && u != nil {
				next := *u
				next.FollowersCount = max(next.FollowersCount+delta, 0)
				out[targetKey] = &next
			}
			if set, ok := cache.Value[model.FollowSet](s, followingKey); ok {
				if follow {
					out[followingKey] = set.With(target)
				} else {
					out[followingKey] = set.Without(target)
				}
			}
			if set, ok := cache.Value[model.FollowSet](s, followersKey); ok {
				if follow {
					out[followersKey] = set.With(me)
				} else {
					out[followersKey] = set.Without(me)
				}
			}
			return out
		},
		Dispatch: func(ctx context.Context) error {
			if follow {
				return o.gw.Follow(ctx, target)
			}
			return o.gw.Unfollow(ctx, target)
		},
	})
}

// Register creates the profile of me. Nothing is predicted: a profile is
// only ever read back from the remote.
func (o *Ops) Register(ctx context.Context, me model.Identity, req model.RegisterRequest) error {
	req, err := req.Normalize()
	if err != nil {
		return err
	}
	meKey := resource.UserKey(me)

	return o.co.Run(ctx, Plan{
		Name: "register",
		Keys: []cache.Key{meKey},
		Prepare: func(ctx context.Context) error {
			u, err := o.res.User(me).Fetch(ctx, o.res.Cache())
			if err != nil {
				return err
			}
			if u != nil {
				return model.ErrAlreadyRegistered
			}
			return nil
		},
		Dispatch: func(ctx context.Context) error {
			return o.gw.CreateUser(ctx, req)
		},
	})
}

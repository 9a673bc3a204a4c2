package service

import (
	"context"

	"feedsync/internal/model"
	"feedsync/internal/mutation"
	"feedsync/internal/resource"
)

type FollowService struct {
	ops        *mutation.Ops
	res        *resource.Set
	identities Identities
}

func NewFollowService(ops *mutation.Ops, res *resource.Set, identities Identities) *FollowService {
	return &FollowService{ops: ops, res: res, identities: identities}
}

func (s *FollowService) Follow(ctx context.Context, target model.Identity) error {
	if target == "" {
		return model.Invalid("user_id", "must not be empty")
	}
	me, _, err := s.identities.RequireUser(ctx)
	if err != nil {
		return err
	}
	return s.ops.Follow(ctx, me, target)
}

func (s *FollowService) Unfollow(ctx context.Context, target model.Identity) error {
	if target == "" {
		return model.Invalid("user_id", "must not be empty")
	}
	me, _, err := s.identities.RequireUser(ctx)
	if err != nil {
		return err
	}
	return s.ops.Unfollow(ctx, me, target)
}

// Following lists who id follows.
func (s *FollowService) Following(ctx context.Context, id model.Identity) (model.FollowSet, error) {
	if id == "" {
		return nil, model.Invalid("user_id", "must not be empty")
	}
	return s.res.Following(id).Fetch(ctx, s.res.Cache())
}

// Followers lists who follows id.
func (s *FollowService) Followers(ctx context.Context, id model.Identity) (model.FollowSet, error) {
	if id == "" {
		return nil, model.Invalid("user_id", "must not be empty")
	}
	return s.res.Followers(id).Fetch(ctx, s.res.Cache())
}

// IsFollowing reports whether the current user follows target, derived
// from the current user's following set.
func (s *FollowService) IsFollowing(ctx context.Context, target model.Identity) (model.FollowStatus, error) {
	me, err := s.identities.ResolveIdentity(ctx)
	if err != nil {
		return model.FollowStatus{}, err
	}
	following, err := s.res.Following(me).Fetch(ctx, s.res.Cache())
	if err != nil {
		return model.FollowStatus{}, err
	}
	return model.FollowStatus{UserID: target, IsFollowing: following.Contains(target)}, nil
}

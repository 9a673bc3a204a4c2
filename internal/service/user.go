package service

import (
	"context"
	"fmt"

	"feedsync/internal/model"
	"feedsync/internal/mutation"
	"feedsync/internal/resource"
)

// UserService handles profile reads and registration
type UserService struct {
	ops        *mutation.Ops
	res        *resource.Set
	identities Identities
}

func NewUserService(ops *mutation.Ops, res *resource.Set, identities Identities) *UserService {
	return &UserService{ops: ops, res: res, identities: identities}
}

// Me returns the current identity and its profile; a nil user means the
// identity has not registered yet.
func (s *UserService) Me(ctx context.Context) (model.Identity, *model.User, error) {
	id, err := s.identities.ResolveIdentity(ctx)
	if err != nil {
		return "", nil, err
	}
	u, err := s.res.User(id).Fetch(ctx, s.res.Cache())
	if err != nil {
		return id, nil, fmt.Errorf("fetch current user: %w", err)
	}
	return id, u, nil
}

// Register creates the current identity's profile and returns it.
func (s *UserService) Register(ctx context.Context, req model.RegisterRequest) (*model.User, error) {
	req, err := req.Normalize()
	if err != nil {
		return nil, err
	}

	id, err := s.identities.ResolveIdentity(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.ops.Register(ctx, id, req); err != nil {
		return nil, err
	}

	u, err := s.res.User(id).Fetch(ctx, s.res.Cache())
	if err != nil {
		return nil, fmt.Errorf("fetch registered user: %w", err)
	}
	return u, nil
}

// Get returns a user's profile; nil when the identity has none.
func (s *UserService) Get(ctx context.Context, id model.Identity) (*model.User, error) {
	if id == "" {
		return nil, model.Invalid("user_id", "must not be empty")
	}
	return s.res.User(id).Fetch(ctx, s.res.Cache())
}

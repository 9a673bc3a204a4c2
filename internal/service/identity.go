package service

import (
	"context"

	"feedsync/internal/model"
)

// Identities is the part of the identity resolver the services depend on.
type Identities interface {
	ResolveIdentity(ctx context.Context) (model.Identity, error)
	CurrentUser(ctx context.Context) (*model.User, error)
	RequireUser(ctx context.Context) (model.Identity, *model.User, error)
}

// Package gateway is the typed contract of the remote social service and its
// HTTP implementation.
package gateway

import (
	"context"

	"feedsync/internal/model"
)

// Gateway is every remote operation this client consumes. Calls may fail
// with a *model.TransportError at any time and are sent once per local call.
type Gateway interface {
	// FetchPosts returns posts in the remote's order, newest first.
	FetchPosts(ctx context.Context, offset, limit int) ([]model.Post, error)

	// CreatePost creates a post authored by the caller.
	CreatePost(ctx context.Context, req model.CreatePostRequest) error

	// FetchUser returns the profile of id. (nil, nil) means id is not registered.
	FetchUser(ctx context.Context, id model.Identity) (*model.User, error)

	// CreateUser registers the caller. It fails if the caller already has a profile.
	CreateUser(ctx context.Context, req model.RegisterRequest) error

	// Follow and Unfollow are not safe to call redundantly.
	Follow(ctx context.Context, followee model.Identity) error
	Unfollow(ctx context.Context, followee model.Identity) error

	FetchFollowers(ctx context.Context, id model.Identity) (model.FollowSet, error)
	FetchFollowing(ctx context.Context, id model.Identity) (model.FollowSet, error)

	// ReactToPost increments the remote reaction counter. Not idempotent.
	ReactToPost(ctx context.Context, postID int64) error
}

// TokenSource yields the bearer token for the current caller.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// ImageStager uploads a post image ahead of the create call so the remote
// only receives its URL.
type ImageStager interface {
	Stage(ctx context.Context, data []byte, contentType string) (*model.UploadResult, error)
}

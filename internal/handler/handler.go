// Package handler maps the local JSON API onto the services.
package handler

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"feedsync/internal/httputil"
	"feedsync/internal/model"
)

// Services the handlers call. The concrete types live in internal/service.
type (
	FeedService interface {
		Feed(ctx context.Context, offset, limit int, waitAuthors bool) (model.FeedView, error)
		UserPosts(ctx context.Context, author model.Identity) ([]model.Post, error)
	}

	PostService interface {
		Create(ctx context.Context, content string, image []byte) error
		React(ctx context.Context, postID int64) error
	}

	UserService interface {
		Me(ctx context.Context) (model.Identity, *model.User, error)
		Register(ctx context.Context, req model.RegisterRequest) (*model.User, error)
		Get(ctx context.Context, id model.Identity) (*model.User, error)
	}

	FollowService interface {
		Follow(ctx context.Context, target model.Identity) error
		Unfollow(ctx context.Context, target model.Identity) error
		Following(ctx context.Context, id model.Identity) (model.FollowSet, error)
		Followers(ctx context.Context, id model.Identity) (model.FollowSet, error)
		IsFollowing(ctx context.Context, target model.Identity) (model.FollowStatus, error)
	}

	SessionService interface {
		SignIn(ctx context.Context, token string) (model.Identity, error)
		SignOut(ctx context.Context) error
	}
)

// writeError writes the API error for err and logs the ones that map to a 500.
func writeError(w http.ResponseWriter, logger *zap.Logger, op string, err error) {
	if !httputil.WriteDomainError(w, err) {
		logger.Error("[Handler] "+op+" FAILED", zap.Error(err))
	}
}

func queryInt(r *http.Request, name string, def int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

func nopIfNil(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}

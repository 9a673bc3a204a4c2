package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"feedsync/internal/handler"
	"feedsync/internal/httputil"
	idmw "feedsync/internal/transport/http/middleware"
)

// RouterConfig holds the dependencies needed to create routes
type RouterConfig struct {
	SessionHandler *handler.SessionHandler
	UserHandler    *handler.UserHandler
	FollowHandler  *handler.FollowHandler
	FeedHandler    *handler.FeedHandler
	PostHandler    *handler.PostHandler
	Identities     idmw.IdentityResolver
	Logger         *zap.Logger
}

// NewRouter creates the local API router
func NewRouter(cfg RouterConfig) chi.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(idmw.RequestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/session", func(r chi.Router) {
		r.Post("/", cfg.SessionHandler.SignIn)
		r.Delete("/", cfg.SessionHandler.SignOut)
	})

	// Everything else needs a signed-in identity
	r.Group(func(r chi.Router) {
		r.Use(idmw.RequireIdentity(cfg.Identities))

		r.Get("/me", cfg.UserHandler.Me)
		r.Post("/me", cfg.UserHandler.Register)

		r.Get("/feed", cfg.FeedHandler.GetFeed)

		r.Post("/posts", cfg.PostHandler.Create)
		r.Post("/posts/{id}/reactions", cfg.PostHandler.React)

		r.Route("/users/{id}", func(r chi.Router) {
			r.Get("/", cfg.UserHandler.GetProfile)
			r.Get("/posts", cfg.FeedHandler.GetUserPosts)
			r.Get("/followers", cfg.FollowHandler.GetFollowers)
			r.Get("/following", cfg.FollowHandler.GetFollowing)
			r.Post("/follow", cfg.FollowHandler.Follow)
			r.Delete("/follow", cfg.FollowHandler.Unfollow)
		})
	})

	return r
}

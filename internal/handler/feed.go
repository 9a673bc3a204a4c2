package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"feedsync/internal/httputil"
	"feedsync/internal/model"
)

type FeedHandler struct {
	feedService FeedService
	logger      *zap.Logger
}

func NewFeedHandler(feedService FeedService, logger *zap.Logger) *FeedHandler {
	return &FeedHandler{
		feedService: feedService,
		logger:      nopIfNil(logger),
	}
}

// GetFeed handles GET /feed
//
// Query params:
//   - offset: optional, default 0
//   - limit: optional, default is the configured page size
//   - wait_authors: optional, "false" returns posts before their authors resolve
func (h *FeedHandler) GetFeed(w http.ResponseWriter, r *http.Request) {
	offset, ok := queryInt(r, "offset", 0)
	if !ok {
		httputil.WriteBadRequest(w, "Invalid offset parameter")
		return
	}
	limit, ok := queryInt(r, "limit", 0)
	if !ok {
		httputil.WriteBadRequest(w, "Invalid limit parameter")
		return
	}
	waitAuthors := true
	if raw := r.URL.Query().Get("wait_authors"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			httputil.WriteBadRequest(w, "Invalid wait_authors parameter")
			return
		}
		waitAuthors = parsed
	}

	view, err := h.feedService.Feed(r.Context(), offset, limit, waitAuthors)
	if err != nil {
		writeError(w, h.logger, "GetFeed", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, view)
}

// GetUserPosts handles GET /users/{id}/posts
func (h *FeedHandler) GetUserPosts(w http.ResponseWriter, r *http.Request) {
	author := model.Identity(chi.URLParam(r, "id"))

	posts, err := h.feedService.UserPosts(r.Context(), author)
	if err != nil {
		writeError(w, h.logger, "GetUserPosts", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{"posts": posts})
}

package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"feedsync/internal/httputil"
	"feedsync/internal/model"
)

type FollowHandler struct {
	followService FollowService
	logger        *zap.Logger
}

func NewFollowHandler(followService FollowService, logger *zap.Logger) *FollowHandler {
	return &FollowHandler{
		followService: followService,
		logger:        nopIfNil(logger),
	}
}

func (h *FollowHandler) Follow(w http.ResponseWriter, r *http.Request) {
	target := model.Identity(chi.URLParam(r, "id"))

	if err := h.followService.Follow(r.Context(), target); err != nil {
		writeError(w, h.logger, "Follow", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, model.FollowStatus{UserID: target, IsFollowing: true})
}

func (h *FollowHandler) Unfollow(w http.ResponseWriter, r *http.Request) {
	target := model.Identity(chi.URLParam(r, "id"))

	if err := h.followService.Unfollow(r.Context(), target); err != nil {
		writeError(w, h.logger, "Unfollow", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, model.FollowStatus{UserID: target, IsFollowing: false})
}

func (h *FollowHandler) GetFollowers(w http.ResponseWriter, r *http.Request) {
	set, err := h.followService.Followers(r.Context(), model.Identity(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, h.logger, "GetFollowers", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{"users": nonNil(set)})
}

func (h *FollowHandler) GetFollowing(w http.ResponseWriter, r *http.Request) {
	set, err := h.followService.Following(r.Context(), model.Identity(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, h.logger, "GetFollowing", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{"users": nonNil(set)})
}

func nonNil(set model.FollowSet) model.FollowSet {
	if set == nil {
		return model.FollowSet{}
	}
	return set
}

package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"feedsync/internal/httputil"
	"feedsync/internal/model"
)

type UserHandler struct {
	userService   UserService
	followService FollowService
	logger        *zap.Logger
}

func NewUserHandler(userService UserService, followService FollowService, logger *zap.Logger) *UserHandler {
	return &UserHandler{
		userService:   userService,
		followService: followService,
		logger:        nopIfNil(logger),
	}
}

// MeResponse is the body of GET /me.
type MeResponse struct {
	Identity   model.Identity `json:"identity"`
	Registered bool           `json:"registered"`
	User       *model.User    `json:"user,omitempty"`
}

// ProfileResponse is the body of GET /users/{id}.
type ProfileResponse struct {
	User        *model.User `json:"user"`
	IsFollowing bool        `json:"is_following"`
}

// Me handles GET /me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	id, u, err := h.userService.Me(r.Context())
	if err != nil {
		writeError(w, h.logger, "Me", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, MeResponse{Identity: id, Registered: u != nil, User: u})
}

// Register handles POST /me
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}

	u, err := h.userService.Register(r.Context(), req)
	if err != nil {
		writeError(w, h.logger, "Register", err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, u)
}

// GetProfile handles GET /users/{id}
func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	id := model.Identity(chi.URLParam(r, "id"))

	u, err := h.userService.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, "GetProfile", err)
		return
	}
	if u == nil {
		httputil.WriteNotFound(w, "User has no profile")
		return
	}

	status, err := h.followService.IsFollowing(r.Context(), id)
	if err != nil {
		writeError(w, h.logger, "GetProfile", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, ProfileResponse{User: u, IsFollowing: status.IsFollowing})
}

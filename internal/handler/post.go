package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"feedsync/internal/httputil"
	"feedsync/internal/model"
)

type PostHandler struct {
	postService PostService
	logger      *zap.Logger
}

func NewPostHandler(postService PostService, logger *zap.Logger) *PostHandler {
	return &PostHandler{
		postService: postService,
		logger:      nopIfNil(logger),
	}
}

// Create handles POST /posts
// The body is {"content": "...", "image": "<base64>"}; image is optional.
func (h *PostHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req model.CreatePostRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := h.postService.Create(r.Context(), req.Content, req.Image); err != nil {
		writeError(w, h.logger, "CreatePost", err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, map[string]string{
		"message": "Post created",
	})
}

// React handles POST /posts/{id}/reactions
func (h *PostHandler) React(w http.ResponseWriter, r *http.Request) {
	postID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httputil.WriteBadRequest(w, "Invalid post ID")
		return
	}

	if err := h.postService.React(r.Context(), postID); err != nil {
		writeError(w, h.logger, "React", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Reaction added",
	})
}

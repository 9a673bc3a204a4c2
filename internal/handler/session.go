package handler

import (
	"net/http"

	"go.uber.org/zap"

	"feedsync/internal/httputil"
	"feedsync/internal/identity"
)

type SessionHandler struct {
	sessionService SessionService
	logger         *zap.Logger
}

func NewSessionHandler(sessionService SessionService, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		logger:         nopIfNil(logger),
	}
}

type signInRequest struct {
	Token string `json:"token"`
}

// SignIn handles POST /session
func (h *SessionHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}

	id, err := h.sessionService.SignIn(r.Context(), req.Token)
	if err != nil {
		writeError(w, h.logger, "SignIn", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"identity":    string(id),
		"fingerprint": identity.Fingerprint(id),
	})
}

// SignOut handles DELETE /session
func (h *SessionHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.sessionService.SignOut(r.Context()); err != nil {
		writeError(w, h.logger, "SignOut", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

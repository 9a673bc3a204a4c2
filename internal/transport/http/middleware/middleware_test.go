package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"feedsync/internal/model"
)

type mockResolver struct {
	ResolveIdentityFn func(ctx context.Context) (model.Identity, error)
}

func (m *mockResolver) ResolveIdentity(ctx context.Context) (model.Identity, error) {
	return m.ResolveIdentityFn(ctx)
}

func TestRequireIdentity(t *testing.T) {
	var seen model.Identity
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = GetIdentityFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})

	ok := RequireIdentity(&mockResolver{ResolveIdentityFn: func(ctx context.Context) (model.Identity, error) {
		return "alice", nil
	}})(next)
	rec := httptest.NewRecorder()
	ok.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, model.Identity("alice"), seen)

	anonymous := RequireIdentity(&mockResolver{ResolveIdentityFn: func(ctx context.Context) (model.Identity, error) {
		return "", model.ErrNoIdentity
	}})(next)
	rec = httptest.NewRecorder()
	anonymous.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	h := RequestLogger(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/feed", nil))

	entries := logs.FilterMessage("[HTTP] Request FAILED").All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, int64(http.StatusBadGateway), entries[0].ContextMap()["status"])
	}
}

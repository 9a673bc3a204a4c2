package middleware

import (
	"context"
	"net/http"

	"feedsync/internal/httputil"
	"feedsync/internal/model"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// IdentityKey is the context key for the resolved caller identity
	IdentityKey contextKey = "identity"
)

// IdentityResolver yields the identity of the local session.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context) (model.Identity, error)
}

// RequireIdentity rejects requests while no identity is signed in and
// stores the resolved identity in the request context.
func RequireIdentity(resolver IdentityResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, err := resolver.ResolveIdentity(r.Context())
			if err != nil {
				httputil.WriteDomainError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), IdentityKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetIdentityFromContext extracts the identity from the request context
func GetIdentityFromContext(ctx context.Context) (model.Identity, bool) {
	id, ok := ctx.Value(IdentityKey).(model.Identity)
	return id, ok
}

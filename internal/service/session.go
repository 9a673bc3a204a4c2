package service

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"feedsync/internal/identity"
	"feedsync/internal/model"
	"feedsync/internal/session"
)

// Resetter forgets per-identity state.
type Resetter interface {
	Reset()
}

// SessionService signs the local client in and out of an identity.
type SessionService struct {
	store      session.Store
	identities Identities
	resetters  []Resetter
	logger     *zap.Logger
}

// NewSessionService creates a SessionService. resetters run on sign-out,
// after the stored token is gone.
func NewSessionService(store session.Store, identities Identities, logger *zap.Logger, resetters ...Resetter) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{store: store, identities: identities, resetters: resetters, logger: logger}
}

// SignIn stores token and resolves the identity it carries.
func (s *SessionService) SignIn(ctx context.Context, token string) (model.Identity, error) {
	token = strings.TrimSpace(token)
	if _, err := identity.FromToken(token); err != nil {
		return "", model.Invalid("token", "does not carry an identity")
	}
	if err := s.store.Save(ctx, token); err != nil {
		return "", fmt.Errorf("save session: %w", err)
	}

	id, err := s.identities.ResolveIdentity(ctx)
	if err != nil {
		return "", err
	}
	s.logger.Info("[SessionService] SignIn OK", zap.String("identity", identity.Fingerprint(id)))
	return id, nil
}

// SignOut forgets the token and everything cached for the identity.
func (s *SessionService) SignOut(ctx context.Context) error {
	if err := s.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	for _, r := range s.resetters {
		r.Reset()
	}
	s.logger.Info("[SessionService] SignOut OK")
	return nil
}

// Package identity answers who the current caller is and whether that
// identity is registered.
package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"feedsync/internal/cache"
	"feedsync/internal/model"
	"feedsync/internal/resource"
)

// Source is the session boundary holding the caller's token.
type Source interface {
	Load(ctx context.Context) (string, error)
}

// State is the registration state of the current caller.
type State int

const (
	StatePending State = iota
	StateAnonymous
	StateUnregistered
	StateRegistered
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateAnonymous:
		return "anonymous"
	case StateUnregistered:
		return "unregistered"
	case StateRegistered:
		return "registered"
	default:
		return "unknown"
	}
}

// Resolver turns the session token into an identity and its profile. The
// profile lives in the entity cache under the identity's user key. When
// the identity changes, the whole cache is cleared before the new identity
// is handed out.
type Resolver struct {
	source Source
	res    *resource.Set
	cache  *cache.Cache
	logger *zap.Logger

	mu       sync.Mutex
	current  model.Identity
	resolved bool
}

// NewResolver creates a Resolver.
func NewResolver(source Source, res *resource.Set, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{source: source, res: res, cache: res.Cache(), logger: logger}
}

// ResolveIdentity loads the current identity from the session boundary.
func (r *Resolver) ResolveIdentity(ctx context.Context) (model.Identity, error) {
	token, err := r.source.Load(ctx)
	if err != nil {
		return "", fmt.Errorf("load session: %w", err)
	}

	id, err := FromToken(token)
	if err != nil && !errors.Is(err, model.ErrNoIdentity) {
		return "", err
	}

	r.switchTo(id)
	if id == "" {
		return "", model.ErrNoIdentity
	}
	return id, nil
}

// CurrentUser returns the caller's profile; (nil, nil) means the identity
// resolved but has no profile yet.
func (r *Resolver) CurrentUser(ctx context.Context) (*model.User, error) {
	id, err := r.ResolveIdentity(ctx)
	if err != nil {
		return nil, err
	}
	return r.res.User(id).Fetch(ctx, r.cache)
}

// RequireUser is CurrentUser for operations that need a profile.
func (r *Resolver) RequireUser(ctx context.Context) (model.Identity, *model.User, error) {
	id, err := r.ResolveIdentity(ctx)
	if err != nil {
		return "", nil, err
	}
	u, err := r.res.User(id).Fetch(ctx, r.cache)
	if err != nil {
		return id, nil, err
	}
	if u == nil {
		return id, nil, model.ErrNotRegistered
	}
	return id, u, nil
}

// Peek reports what is known right now without blocking.
func (r *Resolver) Peek() (*model.User, State) {
	r.mu.Lock()
	id, resolved := r.current, r.resolved
	r.mu.Unlock()

	switch {
	case !resolved:
		return nil, StatePending
	case id == "":
		return nil, StateAnonymous
	}

	u, e := cache.Lookup[*model.User](r.cache, resource.UserKey(id))
	switch {
	case !e.HasValue:
		return nil, StatePending
	case u == nil:
		return nil, StateUnregistered
	default:
		return u, StateRegistered
	}
}

// Reset forgets the current identity and clears the cache.
func (r *Resolver) Reset() {
	r.mu.Lock()
	prev := r.current
	r.current = ""
	r.resolved = false
	r.mu.Unlock()

	r.cache.Clear()
	r.logger.Info("[Identity] Reset", zap.String("previous", Fingerprint(prev)))
}

func (r *Resolver) switchTo(id model.Identity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.resolved && r.current == id {
		return
	}
	if r.resolved {
		r.cache.Clear()
		r.logger.Info("[Identity] Switch: cache cleared",
			zap.String("previous", Fingerprint(r.current)),
			zap.String("current", Fingerprint(id)))
	} else {
		r.logger.Info("[Identity] Resolved", zap.String("current", Fingerprint(id)))
	}
	r.current = id
	r.resolved = true
}

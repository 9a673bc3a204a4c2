// Package session persists the caller's identity token. It is the only
// local state that survives a restart.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	feedredis "feedsync/internal/redis"
)

// Store loads and saves the token of one session profile. Load returns an
// empty token when nothing is stored.
type Store interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, token string) error
	Clear(ctx context.Context) error
}

// RedisStore keeps the token in redis under the "session" key of profile.
// With a ttl the session expires after ttl of disuse: every successful Load
// restarts the clock.
type RedisStore struct {
	client  *feedredis.Client
	profile string
	ttl     time.Duration
}

// NewRedisStore creates a Store for profile. A zero ttl keeps the token
// until cleared.
func NewRedisStore(client *feedredis.Client, profile string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, profile: profile, ttl: ttl}
}

// Key returns the redis key the token lives under.
func (s *RedisStore) Key() string { return s.client.Key("session", s.profile) }

// Load reads the stored token and extends its expiry.
func (s *RedisStore) Load(ctx context.Context) (string, error) {
	token, ok, err := s.client.GetString(ctx, s.Key())
	if err != nil {
		return "", fmt.Errorf("load session %s: %w", s.profile, err)
	}
	if !ok {
		return "", nil
	}
	if _, err := s.client.Touch(ctx, s.Key(), s.ttl); err != nil {
		return "", fmt.Errorf("refresh session %s: %w", s.profile, err)
	}
	return token, nil
}

// Save stores token, replacing any previous one.
func (s *RedisStore) Save(ctx context.Context, token string) error {
	if err := s.client.SetString(ctx, s.Key(), token, s.ttl); err != nil {
		return fmt.Errorf("save session %s: %w", s.profile, err)
	}
	return nil
}

// Clear removes the stored token.
func (s *RedisStore) Clear(ctx context.Context) error {
	if err := s.client.Delete(ctx, s.Key()); err != nil {
		return fmt.Errorf("clear session %s: %w", s.profile, err)
	}
	return nil
}

// MemoryStore keeps the token in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	token string
}

// NewMemoryStore creates a MemoryStore seeded with token.
func NewMemoryStore(token string) *MemoryStore {
	return &MemoryStore{token: token}
}

func (s *MemoryStore) Load(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, nil
}

func (s *MemoryStore) Save(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return nil
}

func (s *MemoryStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	return nil
}

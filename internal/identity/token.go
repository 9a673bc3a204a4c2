package identity

import (
	"context"
	"encoding/hex"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/blake2b"

	"feedsync/internal/model"
)

// FromToken derives the caller identity from a session token. A JWT names
// the caller in its subject claim; the signature is not checked here, the
// remote does that. Any other token is the identity itself.
func FromToken(token string) (model.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", model.ErrNoIdentity
	}

	if strings.Count(token, ".") == 2 {
		claims := &jwt.RegisteredClaims{}
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil && claims.Subject != "" {
			return model.Identity(claims.Subject), nil
		}
	}
	return model.Identity(token), nil
}

// Fingerprint is a short, stable, non-reversible label for an identity,
// safe to log.
func Fingerprint(id model.Identity) string {
	if id == "" {
		return "anonymous"
	}
	sum := blake2b.Sum256([]byte(id))
	return hex.EncodeToString(sum[:6])
}

// Tokens adapts a Source into the gateway's bearer token source.
type Tokens struct {
	Source Source
}

// Token returns the raw session token.
func (t Tokens) Token(ctx context.Context) (string, error) {
	token, err := t.Source.Load(ctx)
	if err != nil {
		return "", err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", model.ErrNoIdentity
	}
	return token, nil
}

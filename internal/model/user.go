package model

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// Identity is the opaque, externally issued token that names a caller.
// It is compared byte for byte and never minted locally.
type Identity string

// User is the remote profile record of a registered identity.
type User struct {
	ID             Identity `json:"id"`
	Username       string   `json:"username"`
	AvatarEmoji    string   `json:"avatar_emoji"`
	FollowersCount int64    `json:"followers_count"`
	FollowingCount int64    `json:"following_count"`
}

// RegisterRequest represents the data needed to register the current caller
type RegisterRequest struct {
	Username    string `json:"username"`
	AvatarEmoji string `json:"avatar_emoji"`
}

// Registration limits
const (
	MinUsernameLength = 2
	MaxUsernameLength = 30
)

// AvatarEmojis are the avatars a profile may pick from.
var AvatarEmojis = []string{"🐵", "🦊", "🐸", "🐼", "🦁", "🐯", "🐨", "🐻", "🦝", "🐺", "🦄", "🐙"}

var (
	// ErrNoIdentity is returned when the session boundary holds no identity token
	ErrNoIdentity = errors.New("no identity")

	// ErrNotRegistered is returned when the caller's identity has no profile yet
	ErrNotRegistered = errors.New("identity not registered")

	// ErrAlreadyRegistered is returned when registering an identity that already has a profile
	ErrAlreadyRegistered = errors.New("identity already registered")
)

// Normalize trims the request and checks it against the registration rules.
func (r RegisterRequest) Normalize() (RegisterRequest, error) {
	r.Username = strings.TrimSpace(r.Username)
	r.AvatarEmoji = strings.TrimSpace(r.AvatarEmoji)

	n := utf8.RuneCountInString(r.Username)
	if n < MinUsernameLength || n > MaxUsernameLength {
		return r, Invalid("username", "must be between 2 and 30 characters")
	}
	if !IsAvatarEmoji(r.AvatarEmoji) {
		return r, Invalid("avatar_emoji", "must be one of the offered avatars")
	}
	return r, nil
}

// IsAvatarEmoji reports whether e is one of AvatarEmojis.
func IsAvatarEmoji(e string) bool {
	for _, a := range AvatarEmojis {
		if a == e {
			return true
		}
	}
	return false
}

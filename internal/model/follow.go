package model

import "errors"

// FollowSet is an unordered set of identities as returned by the remote.
// Methods never modify the receiver.
type FollowSet []Identity

// Contains reports whether id is a member.
func (s FollowSet) Contains(id Identity) bool {
	for _, m := range s {
		if m == id {
			return true
		}
	}
	return false
}

// With returns a copy of s that includes id.
func (s FollowSet) With(id Identity) FollowSet {
	if s.Contains(id) {
		return append(FollowSet(nil), s...)
	}
	out := make(FollowSet, 0, len(s)+1)
	out = append(out, s...)
	return append(out, id)
}

// Without returns a copy of s that excludes id.
func (s FollowSet) Without(id Identity) FollowSet {
	out := make(FollowSet, 0, len(s))
	for _, m := range s {
		if m != id {
			out = append(out, m)
		}
	}
	return out
}

// FollowStatus is what the presentation boundary needs to render a follow button.
type FollowStatus struct {
	UserID      Identity `json:"user_id"`
	IsFollowing bool     `json:"is_following"`
}

var (
	ErrAlreadyFollowing = errors.New("already following this user")
	ErrNotFollowing     = errors.New("not following this user")
	ErrCannotFollowSelf = errors.New("cannot follow yourself")
)

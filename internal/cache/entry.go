package cache

import (
	"strings"
	"time"
)

// Key addresses one cached resource, e.g. "user:abc" or "posts:0:50".
type Key string

// HasPrefix reports whether the key starts with prefix.
func (k Key) HasPrefix(prefix string) bool {
	return strings.HasPrefix(string(k), prefix)
}

// Status is the freshness state of an entry.
type Status int

const (
	StatusEmpty Status = iota
	StatusPending
	StatusFresh
	StatusStale
)

func (s Status) String() string {
	switch s {
	case StatusEmpty:
		return "empty"
	case StatusPending:
		return "pending"
	case StatusFresh:
		return "fresh"
	case StatusStale:
		return "stale"
	default:
		return "unknown"
	}
}

// Entry is a point-in-time copy of a cache entry.
// Values stored in the cache are treated as immutable; callers that derive
// a new value must copy instead of editing the one they read.
type Entry struct {
	Key        Key
	Value      any
	HasValue   bool
	Status     Status
	Generation uint64
	UpdatedAt  time.Time

	// Err is the error of the most recent failed fetch, cleared by the next success.
	Err error

	// Held is true while a mutation owns the key.
	Held bool
}

// Snapshot is an immutable set of entries captured at one instant.
type Snapshot struct {
	entries map[Key]Entry
}

// Get returns the captured entry for key. Keys that were not captured
// report StatusEmpty.
func (s Snapshot) Get(key Key) Entry {
	if e, ok := s.entries[key]; ok {
		return e
	}
	return Entry{Key: key, Status: StatusEmpty}
}

// Keys returns the captured keys.
func (s Snapshot) Keys() []Key {
	keys := make([]Key, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys
}

// Value returns the captured value of key as T. The zero T is returned when
// the key had no value or held a different type.
func Value[T any](s Snapshot, key Key) (T, bool) {
	e := s.Get(key)
	v, ok := e.Value.(T)
	return v, ok && e.HasValue
}

package cache

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultCollectionTTL is how long feed-like collections stay fresh.
const DefaultCollectionTTL = 30 * time.Second

type entry struct {
	value      any
	hasValue   bool
	status     Status
	prior      Status // terminal status to fall back to when a pending fetch fails
	generation uint64
	updatedAt  time.Time
	err        error
	holds      int

	// invalidated is set when a pending entry is invalidated; the flight then
	// commits as stale.
	invalidated bool
}

type ttlRule struct {
	prefix string
	ttl    time.Duration
}

// Cache is the process-wide store of remotely sourced values.
//
// Every fetch issued for a key takes a new generation from a cache-wide
// counter, and a result is only committed while the entry still carries
// that generation in the pending state. At most one fetch per key is
// outstanding; concurrent readers join it.
type Cache struct {
	mu      sync.Mutex
	entries map[Key]*entry
	gen     uint64
	ttls    []ttlRule
	flights singleflight.Group
	now     func() time.Time
	logger  *zap.Logger
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock replaces the wall clock used for staleness.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithTTL makes fresh entries whose key starts with prefix age into stale
// after ttl. The longest matching prefix wins.
func WithTTL(prefix string, ttl time.Duration) Option {
	return func(c *Cache) {
		c.ttls = append(c.ttls, ttlRule{prefix: prefix, ttl: ttl})
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New creates an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[Key]*entry),
		now:     time.Now,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	sort.SliceStable(c.ttls, func(i, j int) bool {
		return len(c.ttls[i].prefix) > len(c.ttls[j].prefix)
	})
	return c
}

// Get returns the current entry for key without blocking.
func (c *Cache) Get(key Key) Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return Entry{Key: key, Status: StatusEmpty}
	}
	c.age(key, e)
	return e.export(key)
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Put stores value as fresh without a network round trip. A pending fetch
// for key is abandoned. The generation is unchanged.
func (c *Cache) Put(key Key, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.lookup(key)
	c.store(e, value)
}

// Seed stores value as fresh unless a mutation holds key. It reports
// whether the value was stored.
func (c *Cache) Seed(key Key, value any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.lookup(key)
	if e.holds > 0 {
		return false
	}
	c.store(e, value)
	return true
}

// Invalidate marks the given keys stale. A pending fetch for one of them
// still commits, but as stale.
func (c *Cache) Invalidate(keys ...Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range keys {
		if e, ok := c.entries[key]; ok {
			e.invalidate()
		}
	}
}

// InvalidatePrefix marks every entry whose key starts with prefix stale and
// returns how many entries matched.
func (c *Cache) InvalidatePrefix(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for key, e := range c.entries {
		if key.HasPrefix(prefix) {
			e.invalidate()
			n++
		}
	}
	return n
}

// Cancel abandons the pending fetch for key, if any. Its result will be
// discarded and the entry falls back to its prior status.
func (c *Cache) Cancel(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		c.cancel(key, e)
	}
}

// Hold marks keys as owned by a mutation. Pending fetches for them are
// abandoned and, until Release, fetch results for them are never committed.
// Reads of a held key return its current value without a network call; a
// held key with no value is read through the loader and the result is
// handed back uncached. Holds nest.
func (c *Cache) Hold(keys ...Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range keys {
		e := c.lookup(key)
		c.cancel(key, e)
		e.holds++
	}
}

// Release undoes one Hold for each key.
func (c *Cache) Release(keys ...Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range keys {
		if e, ok := c.entries[key]; ok && e.holds > 0 {
			e.holds--
		}
	}
}

// Snapshot captures the given keys.
func (c *Cache) Snapshot(keys ...Key) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{entries: make(map[Key]Entry, len(keys))}
	for _, key := range keys {
		e, ok := c.entries[key]
		if !ok {
			s.entries[key] = Entry{Key: key, Status: StatusEmpty}
			continue
		}
		c.age(key, e)
		s.entries[key] = e.export(key)
	}
	return s
}

// Restore puts every entry of the snapshot back exactly as captured: value,
// presence and status. Generations are never rewound, and holds are kept.
func (c *Cache) Restore(s Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, snap := range s.entries {
		e := c.lookup(key)
		if e.status == StatusPending {
			c.cancel(key, e)
		}
		e.value = snap.Value
		e.hasValue = snap.HasValue
		e.status = snap.Status
		if e.status == StatusPending {
			e.status = StatusStale
		}
		e.updatedAt = snap.UpdatedAt
		e.err = snap.Err
		e.invalidated = false
	}
}

// Remove deletes the given entries. A pending fetch for a removed key is
// discarded.
func (c *Cache) Remove(keys ...Key) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range keys {
		delete(c.entries, key)
	}
}

// Clear drops every entry. In-flight fetches finish but never commit.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.entries)
	c.entries = make(map[Key]*entry)
	c.logger.Info("[Cache] Clear OK", zap.Int("entries", n))
}

// begin is the single entry point of every read. It returns either the
// value to hand back immediately (ready) or the channel of the flight the
// caller must wait on.
func (c *Cache) begin(ctx context.Context, key Key, mode fetchMode, load func(context.Context) (any, error)) (<-chan singleflight.Result, any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.lookup(key)
	c.age(key, e)

	lctx := context.WithoutCancel(ctx)
	if e.holds > 0 {
		if e.hasValue {
			return nil, e.value, true
		}
		// nothing to show yet: read through without touching the entry
		ch := c.flights.DoChan(heldFlightKey(key), func() (any, error) {
			v, err := load(lctx)
			c.logger.Debug("[Cache] Held read", zap.String("key", string(key)), zap.Error(err))
			return v, err
		})
		return ch, nil, false
	}

	switch e.status {
	case StatusFresh:
		if mode == modeRead {
			return nil, e.value, true
		}
	case StatusPending:
		if mode != modeSupersede {
			ch := c.flights.DoChan(flightKey(key, e.generation), func() (any, error) {
				// only reached if the flight already finished, which cannot
				// happen while the entry is still pending on this generation
				return nil, fmt.Errorf("flight %s#%d vanished", key, e.generation)
			})
			return ch, nil, false
		}
	}

	if e.status != StatusPending {
		e.prior = e.status
	}
	c.gen++
	gen := c.gen
	e.status = StatusPending
	e.generation = gen
	e.invalidated = false

	logger := c.logger
	ch := c.flights.DoChan(flightKey(key, gen), func() (any, error) {
		start := time.Now()
		v, err := load(lctx)
		committed := c.commit(key, gen, v, err)
		if err != nil {
			logger.Debug("[Cache] Fetch FAILED", zap.String("key", string(key)), zap.Uint64("generation", gen), zap.Bool("committed", committed), zap.Error(err))
			return v, err
		}
		logger.Debug("[Cache] Fetch OK", zap.String("key", string(key)), zap.Uint64("generation", gen), zap.Bool("committed", committed), zap.Duration("duration", time.Since(start)))
		return v, nil
	})
	return ch, nil, false
}

// commit applies a fetch result if the entry is still pending on gen.
func (c *Cache) commit(key Key, gen uint64, v any, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || e.holds > 0 || e.status != StatusPending || e.generation != gen {
		return false
	}

	if err != nil {
		e.status = e.prior
		e.err = err
		return true
	}

	e.value = v
	e.hasValue = true
	e.err = nil
	e.updatedAt = c.now()
	e.status = StatusFresh
	if e.invalidated {
		e.status = StatusStale
		e.invalidated = false
	}
	return true
}

func (c *Cache) lookup(key Key) *entry {
	e, ok := c.entries[key]
	if !ok {
		e = &entry{status: StatusEmpty, prior: StatusEmpty}
		c.entries[key] = e
	}
	return e
}

func (c *Cache) store(e *entry, value any) {
	e.value = value
	e.hasValue = true
	e.status = StatusFresh
	e.err = nil
	e.invalidated = false
	e.updatedAt = c.now()
}

func (c *Cache) cancel(key Key, e *entry) {
	if e.status != StatusPending {
		return
	}
	e.status = e.prior
	if e.invalidated && e.status == StatusFresh {
		e.status = StatusStale
	}
	e.invalidated = false
	c.logger.Debug("[Cache] Cancel OK", zap.String("key", string(key)), zap.Uint64("generation", e.generation))
}

// age turns a fresh entry stale once its ttl has elapsed.
func (c *Cache) age(key Key, e *entry) {
	if e.status != StatusFresh {
		return
	}
	ttl := c.ttlFor(key)
	if ttl > 0 && c.now().Sub(e.updatedAt) >= ttl {
		e.status = StatusStale
	}
}

func (c *Cache) ttlFor(key Key) time.Duration {
	for _, r := range c.ttls {
		if key.HasPrefix(r.prefix) {
			return r.ttl
		}
	}
	return 0
}

func (e *entry) invalidate() {
	switch e.status {
	case StatusFresh:
		e.status = StatusStale
	case StatusPending:
		e.invalidated = true
		if e.prior == StatusFresh {
			e.prior = StatusStale
		}
	}
}

func (e *entry) export(key Key) Entry {
	return Entry{
		Key:        key,
		Value:      e.value,
		HasValue:   e.hasValue,
		Status:     e.status,
		Generation: e.generation,
		UpdatedAt:  e.updatedAt,
		Err:        e.err,
		Held:       e.holds > 0,
	}
}

func heldFlightKey(key Key) string {
	return string(key) + "#held"
}

func flightKey(key Key, gen uint64) string {
	return fmt.Sprintf("%s#%d", key, gen)
}

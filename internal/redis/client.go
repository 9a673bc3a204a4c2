// Package redis is the namespaced keyspace the client keeps its durable
// state in. Every key it hands out is prefixed with the namespace, so several
// installations can share one redis database.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultNamespace prefixes every key unless WithNamespace overrides it.
const DefaultNamespace = "feedsync"

// Client is a connection to redis scoped to one namespace.
type Client struct {
	rdb       *redis.Client
	namespace string
}

// Option configures a Client.
type Option func(*Client)

// WithNamespace replaces DefaultNamespace. An empty namespace is ignored.
func WithNamespace(ns string) Option {
	return func(c *Client) {
		if ns = strings.Trim(ns, ":"); ns != "" {
			c.namespace = ns
		}
	}
}

// NewClient creates a Client from a URL of the form
// redis://[:password@]host:port[/db].
func NewClient(redisURL string, opts ...Option) (*Client, error) {
	ropts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	c := &Client{rdb: redis.NewClient(ropts), namespace: DefaultNamespace}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Namespace returns the key prefix of c.
func (c *Client) Namespace() string { return c.namespace }

// Key joins parts under the namespace: Key("session", "work") is
// "feedsync:session:work".
func (c *Client) Key(parts ...string) string {
	return c.namespace + ":" + strings.Join(parts, ":")
}

// Ping verifies the connection. Call it on startup to fail fast.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// GetString reads key. A missing or expired key reports ok == false with a
// nil error.
func (c *Client) GetString(ctx context.Context, key string) (value string, ok bool, err error) {
	value, err = c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetString writes key. A ttl of zero or less keeps the value until deleted.
func (c *Client) SetString(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

// Touch restarts the expiry of key at ttl. It reports false when the key does
// not exist. A ttl of zero or less is a no-op.
func (c *Client) Touch(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return true, nil
	}
	return c.rdb.Expire(ctx, key, ttl).Result()
}

// TTL returns the remaining lifetime of key, zero when it has no expiry and
// a negative value when it does not exist.
func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := c.rdb.TTL(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	switch d {
	case -1:
		return 0, nil
	case -2:
		return -1, nil
	}
	return d, nil
}

// Delete removes keys. Missing keys are not an error.
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// Close closes the connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

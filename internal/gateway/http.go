package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"feedsync/internal/model"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultRetryInitial = 200 * time.Millisecond
	defaultRetryMax     = 2 * time.Second
	defaultRetryElapsed = 10 * time.Second
	maxErrorBodyBytes   = 64 * 1024
	headerRequestID     = "X-Request-ID"
	headerAuthorization = "Authorization"
	headerContentType   = "Content-Type"
	contentTypeJSON     = "application/json"
	bearerPrefix        = "Bearer "
)

// HTTPConfig configures the HTTP gateway.
type HTTPConfig struct {
	BaseURL string
	Timeout time.Duration

	// ReadRetries bounds how many times a failed read is repeated. Writes are
	// never repeated.
	ReadRetries          int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
}

// HTTPOption customizes an HTTPGateway.
type HTTPOption func(*HTTPGateway)

// WithHTTPClient replaces the underlying client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(g *HTTPGateway) { g.client = client }
}

// WithImageStager uploads post images out of band before CreatePost.
func WithImageStager(stager ImageStager) HTTPOption {
	return func(g *HTTPGateway) { g.stager = stager }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) HTTPOption {
	return func(g *HTTPGateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// HTTPGateway implements Gateway over the remote's JSON API.
type HTTPGateway struct {
	base   *url.URL
	client *http.Client
	tokens TokenSource
	stager ImageStager
	cfg    HTTPConfig
	logger *zap.Logger
}

var _ Gateway = (*HTTPGateway)(nil)

// NewHTTPGateway creates a gateway for the remote at cfg.BaseURL.
func NewHTTPGateway(cfg HTTPConfig, tokens TokenSource, opts ...HTTPOption) (*HTTPGateway, error) {
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse gateway url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("parse gateway url: %q is not absolute", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = defaultRetryInitial
	}
	if cfg.RetryMaxInterval <= 0 {
		cfg.RetryMaxInterval = defaultRetryMax
	}

	g := &HTTPGateway{
		base:   base,
		client: &http.Client{Timeout: cfg.Timeout},
		tokens: tokens,
		cfg:    cfg,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// FetchPosts calls GET /posts?offset=&limit=.
func (g *HTTPGateway) FetchPosts(ctx context.Context, offset, limit int) ([]model.Post, error) {
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))

	var posts []model.Post
	if err := g.read(ctx, "fetch posts", "/posts", q, &posts); err != nil {
		return nil, err
	}
	return posts, nil
}

type createPostBody struct {
	Content  string `json:"content"`
	Image    []byte `json:"image,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// CreatePost calls POST /posts. With a stager configured the image is
// uploaded first and only its URL is sent.
func (g *HTTPGateway) CreatePost(ctx context.Context, req model.CreatePostRequest) error {
	body := createPostBody{Content: req.Content, Image: req.Image}
	if len(req.Image) > 0 && g.stager != nil {
		res, err := g.stager.Stage(ctx, req.Image, req.ContentType)
		if err != nil {
			return fmt.Errorf("stage post image: %w", err)
		}
		body.Image = nil
		body.ImageURL = res.URL
	}
	return g.write(ctx, "create post", http.MethodPost, "/posts", body)
}

// FetchUser calls GET /users/{id}; a 404 means not registered.
func (g *HTTPGateway) FetchUser(ctx context.Context, id model.Identity) (*model.User, error) {
	var user model.User
	err := g.read(ctx, "fetch user", userPath(id, ""), nil, &user)
	if err != nil {
		if IsStatus(err, http.StatusNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &user, nil
}

// CreateUser calls POST /users.
func (g *HTTPGateway) CreateUser(ctx context.Context, req model.RegisterRequest) error {
	return g.write(ctx, "create user", http.MethodPost, "/users", req)
}

// Follow calls POST /users/{id}/follow.
func (g *HTTPGateway) Follow(ctx context.Context, followee model.Identity) error {
	return g.write(ctx, "follow", http.MethodPost, userPath(followee, "/follow"), nil)
}

// Unfollow calls DELETE /users/{id}/follow.
func (g *HTTPGateway) Unfollow(ctx context.Context, followee model.Identity) error {
	return g.write(ctx, "unfollow", http.MethodDelete, userPath(followee, "/follow"), nil)
}

// FetchFollowers calls GET /users/{id}/followers.
func (g *HTTPGateway) FetchFollowers(ctx context.Context, id model.Identity) (model.FollowSet, error) {
	var ids model.FollowSet
	if err := g.read(ctx, "fetch followers", userPath(id, "/followers"), nil, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// FetchFollowing calls GET /users/{id}/following.
func (g *HTTPGateway) FetchFollowing(ctx context.Context, id model.Identity) (model.FollowSet, error) {
	var ids model.FollowSet
	if err := g.read(ctx, "fetch following", userPath(id, "/following"), nil, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// ReactToPost calls POST /posts/{id}/reactions.
func (g *HTTPGateway) ReactToPost(ctx context.Context, postID int64) error {
	return g.write(ctx, "react to post", http.MethodPost, "/posts/"+strconv.FormatInt(postID, 10)+"/reactions", nil)
}

// read performs an idempotent GET, retrying transport failures and
// temporary remote answers.
func (g *HTTPGateway) read(ctx context.Context, op, path string, query url.Values, out any) error {
	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(g.cfg.RetryInitialInterval),
		backoff.WithMaxInterval(g.cfg.RetryMaxInterval),
		backoff.WithMaxElapsedTime(defaultRetryElapsed),
	), uint64(max(g.cfg.ReadRetries, 0)))

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		err := g.roundTrip(ctx, http.MethodGet, path, query, nil, out)
		if err == nil {
			return nil
		}
		if !retryable(ctx, err) {
			return backoff.Permanent(err)
		}
		g.logger.Debug("[Gateway] Read retry",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err))
		return err
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return wrap(op, err)
	}
	return nil
}

// write sends a mutation exactly once.
func (g *HTTPGateway) write(ctx context.Context, op, method, path string, body any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = sonic.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s: %w", op, err)
		}
	}
	if err := g.roundTrip(ctx, method, path, nil, payload, nil); err != nil {
		return wrap(op, err)
	}
	return nil
}

func (g *HTTPGateway) roundTrip(ctx context.Context, method, path string, query url.Values, payload []byte, out any) error {
	token, err := g.tokens.Token(ctx)
	if err != nil {
		return &tokenError{err: err}
	}

	u := *g.base
	u.Path = g.base.Path + path
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set(headerRequestID, requestID)
	req.Header.Set(headerAuthorization, bearerPrefix+token)
	if payload != nil {
		req.Header.Set(headerContentType, contentTypeJSON)
	}

	start := time.Now()
	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Debug("[Gateway] Request FAILED",
			zap.String("method", method),
			zap.String("path", path),
			zap.String("request_id", requestID),
			zap.Error(err))
		return err
	}
	defer resp.Body.Close()

	g.logger.Debug("[Gateway] Request OK",
		zap.String("method", method),
		zap.String("path", path),
		zap.String("request_id", requestID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeStatusError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func decodeStatusError(resp *http.Response) error {
	se := &StatusError{StatusCode: resp.StatusCode}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	if err != nil || len(data) == 0 {
		return se
	}
	var env errorEnvelope
	if err := sonic.Unmarshal(data, &env); err == nil {
		se.Code = env.Error.Code
		se.Message = env.Error.Message
	}
	return se
}

// tokenError marks a failure to obtain the caller's token. It is not a
// transport failure and is returned unwrapped.
type tokenError struct{ err error }

func (e *tokenError) Error() string { return e.err.Error() }
func (e *tokenError) Unwrap() error { return e.err }

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var te *tokenError
	if errors.As(err, &te) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Temporary()
	}
	return true
}

func wrap(op string, err error) error {
	var te *tokenError
	if errors.As(err, &te) {
		return te.err
	}
	return &model.TransportError{Op: op, Err: err}
}

func userPath(id model.Identity, suffix string) string {
	return "/users/" + url.PathEscape(string(id)) + suffix
}

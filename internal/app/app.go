// Package app wires the synchronisation layer into one process.
package app

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"feedsync/internal/cache"
	"feedsync/internal/config"
	"feedsync/internal/feed"
	"feedsync/internal/gateway"
	"feedsync/internal/handler"
	"feedsync/internal/identity"
	"feedsync/internal/media"
	"feedsync/internal/mutation"
	"feedsync/internal/query"
	feedredis "feedsync/internal/redis"
	"feedsync/internal/resource"
	"feedsync/internal/service"
	"feedsync/internal/session"
	transport "feedsync/internal/transport/http"
)

// App holds every long-lived component of the client.
type App struct {
	Config *config.Config
	Logger *zap.Logger

	Cache     *cache.Cache
	Gateway   gateway.Gateway
	Store     session.Store
	Resolver  *identity.Resolver
	Scheduler *query.Scheduler

	Feed    *service.FeedService
	Posts   *service.PostService
	Users   *service.UserService
	Follows *service.FollowService
	Session *service.SessionService

	Router http.Handler

	redis *feedredis.Client
}

type options struct {
	gateway gateway.Gateway
	store   session.Store
}

// Option overrides a component New would otherwise build from config.
type Option func(*options)

// WithGateway uses gw instead of the HTTP gateway.
func WithGateway(gw gateway.Gateway) Option {
	return func(o *options) { o.gateway = gw }
}

// WithSessionStore uses store instead of the configured one.
func WithSessionStore(store session.Store) Option {
	return func(o *options) { o.store = store }
}

// New builds the App. Nothing runs until Serve or Start.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{Config: cfg, Logger: logger}

	store, err := a.sessionStore(ctx, o.store)
	if err != nil {
		a.Cleanup()
		return nil, err
	}
	a.Store = store

	gw, err := a.buildGateway(ctx, o.gateway)
	if err != nil {
		a.Cleanup()
		return nil, err
	}
	a.Gateway = gw

	a.Cache = cache.New(
		cache.WithTTL(resource.PrefixPosts, cfg.Feed.StaleAfter),
		cache.WithTTL(resource.PrefixUser, cfg.Feed.StaleAfter),
		cache.WithTTL(resource.PrefixFollowing, cfg.Feed.StaleAfter),
		cache.WithTTL(resource.PrefixFollowers, cfg.Feed.StaleAfter),
		cache.WithLogger(logger.Named("cache")),
	)
	res := resource.NewSet(gw, a.Cache)
	a.Resolver = identity.NewResolver(store, res, logger.Named("identity"))

	a.Scheduler = query.NewScheduler(query.SchedulerConfig{Tick: cfg.Query.Tick}, logger.Named("query"))
	queries := query.NewCoordinator(a.Cache, a.Scheduler, logger.Named("query"))

	ops := mutation.NewOps(
		mutation.NewCoordinator(a.Cache, logger.Named("mutation")),
		gw, res,
		mutation.OpsConfig{PageSize: cfg.Feed.PageSize, MaxImageBytes: cfg.Media.MaxBytes},
	)
	assembler := feed.NewAssembler(res, cfg.Feed.AuthorConcurrency, logger.Named("feed"))

	a.Feed = service.NewFeedService(queries, res, assembler, service.FeedConfig{
		PageSize:        cfg.Feed.PageSize,
		RefreshInterval: cfg.Feed.RefreshInterval,
		IdleAfter:       cfg.Query.IdleAfter,
	}, logger.Named("service"))
	a.Posts = service.NewPostService(ops, a.Resolver, cfg.Media.MaxBytes)
	a.Users = service.NewUserService(ops, res, a.Resolver)
	a.Follows = service.NewFollowService(ops, res, a.Resolver)
	a.Session = service.NewSessionService(store, a.Resolver, logger.Named("service"), a.Feed, a.Resolver)

	httpLogger := logger.Named("http")
	a.Router = transport.NewRouter(transport.RouterConfig{
		SessionHandler: handler.NewSessionHandler(a.Session, httpLogger),
		UserHandler:    handler.NewUserHandler(a.Users, a.Follows, httpLogger),
		FollowHandler:  handler.NewFollowHandler(a.Follows, httpLogger),
		FeedHandler:    handler.NewFeedHandler(a.Feed, httpLogger),
		PostHandler:    handler.NewPostHandler(a.Posts, httpLogger),
		Identities:     a.Resolver,
		Logger:         httpLogger,
	})

	return a, nil
}

// Start runs the background refresh scheduler.
func (a *App) Start(ctx context.Context) {
	a.Scheduler.Start(ctx)
}

// Serve runs the scheduler and the local API until ctx is done.
func (a *App) Serve(ctx context.Context) error {
	a.Start(ctx)
	defer a.Scheduler.Stop()

	return transport.NewServer(a.Config.Server.Addr, a.Router, a.Logger.Named("server")).Run(ctx)
}

// Cleanup releases what New acquired, in reverse order.
func (a *App) Cleanup() {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.Logger.Warn("[App] Redis close FAILED", zap.Error(err))
		}
	}
	_ = a.Logger.Sync()
}

func (a *App) sessionStore(ctx context.Context, override session.Store) (session.Store, error) {
	if override != nil {
		return override, nil
	}
	cfg := a.Config.Session
	if cfg.RedisURL == "" {
		a.Logger.Info("[App] Session store: memory")
		return session.NewMemoryStore(cfg.Token), nil
	}

	client, err := feedredis.NewClient(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	a.redis = client
	if err := client.Ping(ctx); err != nil {
		return nil, err
	}

	store := session.NewRedisStore(client, cfg.Profile, cfg.TTL)
	if cfg.Token != "" {
		current, err := store.Load(ctx)
		if err != nil {
			return nil, err
		}
		if current == "" {
			if err := store.Save(ctx, cfg.Token); err != nil {
				return nil, err
			}
		}
	}
	a.Logger.Info("[App] Session store: redis", zap.String("profile", cfg.Profile))
	return store, nil
}

func (a *App) buildGateway(ctx context.Context, override gateway.Gateway) (gateway.Gateway, error) {
	if override != nil {
		return override, nil
	}
	cfg := a.Config

	opts := []gateway.HTTPOption{gateway.WithLogger(a.Logger.Named("gateway"))}
	r2 := media.R2Config{
		AccountID:       cfg.Media.R2AccountID,
		AccessKeyID:     cfg.Media.R2AccessKeyID,
		SecretAccessKey: cfg.Media.R2SecretAccessKey,
		Bucket:          cfg.Media.R2BucketName,
		PublicURL:       cfg.Media.R2PublicURL,
		Endpoint:        cfg.Media.R2Endpoint,
	}
	if r2.Enabled() {
		store, err := media.NewS3Store(ctx, r2, media.NewNormalizer(cfg.Media.MaxBytes, cfg.Media.MaxDimension))
		if err != nil {
			return nil, fmt.Errorf("create media store: %w", err)
		}
		opts = append(opts, gateway.WithImageStager(store))
		a.Logger.Info("[App] Image staging enabled", zap.String("bucket", r2.Bucket))
	}

	gw, err := gateway.NewHTTPGateway(gateway.HTTPConfig{
		BaseURL:     cfg.Gateway.URL,
		Timeout:     cfg.Gateway.Timeout,
		ReadRetries: cfg.Gateway.ReadRetries,
	}, identity.Tokens{Source: a.Store}, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gateway: %w", err)
	}
	return gw, nil
}

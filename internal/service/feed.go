package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"feedsync/internal/cache"
	"feedsync/internal/feed"
	"feedsync/internal/model"
	"feedsync/internal/query"
	"feedsync/internal/resource"
)

// FeedMaxLimit is the largest page a caller may ask for.
const FeedMaxLimit = model.ProfilePostWindow

// FeedConfig configures FeedService.
type FeedConfig struct {
	PageSize        int
	RefreshInterval time.Duration
	IdleAfter       time.Duration
}

// FeedService serves feed pages. Each page a caller has looked at is kept
// as a watched query so the scheduler refreshes it while it is in use.
type FeedService struct {
	queries   *query.Coordinator
	res       *resource.Set
	assembler *feed.Assembler
	cfg       FeedConfig
	logger    *zap.Logger

	mu    sync.Mutex
	pages map[cache.Key]*query.Query[model.FeedPage]
}

func NewFeedService(
	queries *query.Coordinator,
	res *resource.Set,
	assembler *feed.Assembler,
	cfg FeedConfig,
	logger *zap.Logger,
) *FeedService {
	if cfg.PageSize <= 0 {
		cfg.PageSize = model.DefaultFeedPageSize
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = query.DefaultFeedRefresh
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeedService{
		queries:   queries,
		res:       res,
		assembler: assembler,
		cfg:       cfg,
		logger:    logger,
		pages:     make(map[cache.Key]*query.Query[model.FeedPage]),
	}
}

// PageSize is the limit used when a caller gives none.
func (s *FeedService) PageSize() int { return s.cfg.PageSize }

// Feed returns one page of the feed joined with its authors. With
// waitAuthors false the authors that are not cached yet come back
// unresolved. A failed refresh over earlier data still returns that data,
// flagged with IsError; the error is returned only when there is nothing
// to show.
func (s *FeedService) Feed(ctx context.Context, offset, limit int, waitAuthors bool) (model.FeedView, error) {
	offset, limit, err := s.window(offset, limit)
	if err != nil {
		return model.FeedView{}, err
	}

	q := s.page(offset, limit)
	page, fetchErr := s.activate(ctx, q)
	state := q.State()
	if fetchErr != nil && !state.HasData {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return model.FeedView{}, ctxErr
		}
		s.logger.Warn("[FeedService] Feed FAILED",
			zap.Int("offset", offset), zap.Int("limit", limit), zap.Error(fetchErr))
		return model.FeedView{IsError: true, Error: fetchErr.Error()}, fetchErr
	}
	if fetchErr != nil {
		page = state.Data
	}

	posts := s.res.Posts(page)
	var join *feed.Join
	if waitAuthors {
		join = s.assembler.Assemble(ctx, posts)
		if err := join.Wait(ctx); err != nil {
			return model.FeedView{}, err
		}
	} else {
		// authors keep resolving into the cache after the caller returns
		join = s.assembler.Assemble(context.WithoutCancel(ctx), posts)
	}

	view := model.FeedView{
		Posts:     join.FeedPosts(),
		IsLoading: state.IsFetching,
	}
	if fetchErr != nil {
		view.IsError = true
		view.Error = fetchErr.Error()
	}
	return view, nil
}

// UserPosts is the post list of a profile: the author's posts among the
// newest ProfilePostWindow posts of the feed.
func (s *FeedService) UserPosts(ctx context.Context, author model.Identity) ([]model.Post, error) {
	if author == "" {
		return nil, model.Invalid("user_id", "must not be empty")
	}
	q := s.page(0, model.ProfilePostWindow)
	page, err := s.activate(ctx, q)
	if err != nil {
		return nil, err
	}

	out := []model.Post{}
	for _, p := range s.res.Posts(page) {
		if p.AuthorID == author {
			out = append(out, p)
		}
	}
	return out, nil
}

// Refresh re-fetches every watched page now.
func (s *FeedService) Refresh(ctx context.Context) error {
	s.mu.Lock()
	qs := make([]*query.Query[model.FeedPage], 0, len(s.pages))
	for _, q := range s.pages {
		if q.Active() {
			qs = append(qs, q)
		}
	}
	s.mu.Unlock()

	var errs []error
	for _, q := range qs {
		if _, err := q.Refetch(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Reset drops every watched page, e.g. after sign-out.
func (s *FeedService) Reset() {
	s.mu.Lock()
	pages := s.pages
	s.pages = make(map[cache.Key]*query.Query[model.FeedPage])
	s.mu.Unlock()

	for _, q := range pages {
		q.Deactivate()
	}
}

func (s *FeedService) window(offset, limit int) (int, int, error) {
	if offset < 0 {
		return 0, 0, model.Invalid("offset", "must not be negative")
	}
	if limit <= 0 {
		limit = s.cfg.PageSize
	}
	if limit > FeedMaxLimit {
		limit = FeedMaxLimit
	}
	return offset, limit, nil
}

func (s *FeedService) page(offset, limit int) *query.Query[model.FeedPage] {
	r := s.res.Page(offset, limit)

	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.pages[r.Key]; ok {
		return q
	}
	q := query.Watch(s.queries, r.Key, r.Load, query.Options{
		RefreshInterval: s.cfg.RefreshInterval,
		IdleAfter:       s.cfg.IdleAfter,
	})
	s.pages[r.Key] = q
	return q
}

func (s *FeedService) activate(ctx context.Context, q *query.Query[model.FeedPage]) (model.FeedPage, error) {
	if q.Active() {
		return q.Await(ctx)
	}
	return q.Activate(ctx)
}

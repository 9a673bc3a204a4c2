// Package feed joins posts with their authors.
package feed

import (
	"context"
	"errors"
	"sync"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"feedsync/internal/model"
	"feedsync/internal/resource"
)

// DefaultAuthorConcurrency bounds author fetches per join.
const DefaultAuthorConcurrency = 8

// Assembler resolves the distinct authors of a post list through the cache.
type Assembler struct {
	res         *resource.Set
	concurrency int
	logger      *zap.Logger
}

// NewAssembler creates an Assembler.
func NewAssembler(res *resource.Set, concurrency int, logger *zap.Logger) *Assembler {
	if concurrency <= 0 {
		concurrency = DefaultAuthorConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Assembler{res: res, concurrency: concurrency, logger: logger}
}

// Assemble returns at once with the posts; authors fill in as they
// resolve. One fetch is issued per distinct author, and authors that fail
// to load or have no profile resolve to nil.
func (a *Assembler) Assemble(ctx context.Context, posts []model.Post) *Join {
	j := &Join{
		posts:   posts,
		authors: make(map[model.Identity]*model.User),
		done:    make(chan struct{}),
	}

	ids := distinctAuthors(posts)
	if len(ids) == 0 {
		close(j.done)
		return j
	}

	go func() {
		defer close(j.done)
		p := pool.New().WithMaxGoroutines(a.concurrency)
		for _, id := range ids {
			p.Go(func() {
				u, err := a.res.User(id).Fetch(ctx, a.res.Cache())
				switch {
				case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
					// the caller left; the cache still receives the author
					a.logger.Debug("[Feed] Author fetch abandoned",
						zap.String("author", string(id)),
						zap.Error(err))
					u = nil
				case err != nil:
					a.logger.Warn("[Feed] Author fetch FAILED",
						zap.String("author", string(id)),
						zap.Error(err))
					u = nil
				}
				j.resolve(id, u)
			})
		}
		p.Wait()
	}()
	return j
}

// Join is an in-progress post/author join.
type Join struct {
	posts []model.Post
	done  chan struct{}

	mu      sync.Mutex
	authors map[model.Identity]*model.User
}

// Posts returns the posts, usable before any author resolves.
func (j *Join) Posts() []model.Post { return j.posts }

// Author returns the author record and whether it has resolved. A resolved
// nil author means not found.
func (j *Join) Author(id model.Identity) (*model.User, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	u, ok := j.authors[id]
	return u, ok
}

// Authors returns a copy of the authors resolved so far.
func (j *Join) Authors() map[model.Identity]*model.User {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make(map[model.Identity]*model.User, len(j.authors))
	for k, v := range j.authors {
		out[k] = v
	}
	return out
}

// FeedPosts returns the posts joined with whatever authors are known now.
func (j *Join) FeedPosts() []model.FeedPost {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]model.FeedPost, len(j.posts))
	for i, p := range j.posts {
		u, ok := j.authors[p.AuthorID]
		out[i] = model.FeedPost{Post: p, Author: u, AuthorResolved: ok}
	}
	return out
}

// Done is closed once every author has resolved.
func (j *Join) Done() <-chan struct{} { return j.done }

// Wait blocks until every author resolved or ctx is done.
func (j *Join) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Join) resolve(id model.Identity, u *model.User) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.authors[id] = u
}

func distinctAuthors(posts []model.Post) []model.Identity {
	seen := make(map[model.Identity]struct{}, len(posts))
	ids := make([]model.Identity, 0, len(posts))
	for _, p := range posts {
		if _, ok := seen[p.AuthorID]; ok {
			continue
		}
		seen[p.AuthorID] = struct{}{}
		ids = append(ids, p.AuthorID)
	}
	return ids
}

// Package gatewaytest provides an in-memory remote for tests.
package gatewaytest

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"sync"

	"feedsync/internal/gateway"
	"feedsync/internal/model"
)

// Op names one gateway operation.
type Op string

const (
	OpFetchPosts     Op = "fetch posts"
	OpCreatePost     Op = "create post"
	OpFetchUser      Op = "fetch user"
	OpCreateUser     Op = "create user"
	OpFollow         Op = "follow"
	OpUnfollow       Op = "unfollow"
	OpFetchFollowers Op = "fetch followers"
	OpFetchFollowing Op = "fetch following"
	OpReactToPost    Op = "react to post"
)

// ErrUnavailable is the default injected failure.
var ErrUnavailable = errors.New("remote unavailable")

// Fake is a scriptable remote. It keeps users, posts and follow edges in
// memory, counts every call, can fail the next call of an operation, and can
// hold calls of an operation in flight until released.
type Fake struct {
	mu        sync.Mutex
	caller    model.Identity
	users     map[model.Identity]model.User
	posts     []model.Post // newest first
	following map[model.Identity]map[model.Identity]struct{}
	nextID    int64
	clock     int64

	calls    map[Op]int
	failures map[Op][]error
	gates    map[Op]chan struct{}
}

var _ gateway.Gateway = (*Fake)(nil)

// NewFake creates an empty remote whose calls are made by caller.
func NewFake(caller model.Identity) *Fake {
	return &Fake{
		caller:    caller,
		users:     make(map[model.Identity]model.User),
		following: make(map[model.Identity]map[model.Identity]struct{}),
		nextID:    1,
		clock:     1_700_000_000_000_000_000,
		calls:     make(map[Op]int),
		failures:  make(map[Op][]error),
		gates:     make(map[Op]chan struct{}),
	}
}

// =============================================================================
// Scripting
// =============================================================================

// SetCaller switches the identity subsequent calls are made as.
func (f *Fake) SetCaller(id model.Identity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.caller = id
}

// AddUser registers a profile directly.
func (f *Fake) AddUser(u model.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u
}

// AddPost stores a post by author and returns it.
func (f *Fake) AddPost(author model.Identity, content string, reactions int64) model.Post {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addPostLocked(author, content, nil, "", reactions)
}

// Connect adds a follow edge directly, keeping counts in step.
func (f *Fake) Connect(follower, followee model.Identity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.followLocked(follower, followee)
}

// SetReactions overwrites a post's reaction count, as another caller would.
func (f *Fake) SetReactions(id int64, n int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.posts {
		if f.posts[i].ID == id {
			f.posts[i].ReactionCount = n
		}
	}
}

// FailNext makes the next call of op fail with err (ErrUnavailable when nil)
// wrapped as a transport error. Failures queue up.
func (f *Fake) FailNext(op Op, err error) {
	if err == nil {
		err = ErrUnavailable
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = append(f.failures[op], &model.TransportError{Op: string(op), Err: err})
}

// Block holds every call of op in flight until the returned release func is
// called. The call is counted before it blocks.
func (f *Fake) Block(op Op) (release func()) {
	gate := make(chan struct{})
	f.mu.Lock()
	f.gates[op] = gate
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			if f.gates[op] == gate {
				delete(f.gates, op)
			}
			f.mu.Unlock()
			close(gate)
		})
	}
}

// Calls returns how many times op was called.
func (f *Fake) Calls(op Op) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// User returns the remote's current profile of id.
func (f *Fake) User(id model.Identity) (model.User, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	return u, ok
}

// Post returns the remote's current copy of a post.
func (f *Fake) Post(id int64) (model.Post, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.posts {
		if p.ID == id {
			return p, true
		}
	}
	return model.Post{}, false
}

// =============================================================================
// gateway.Gateway
// =============================================================================

func (f *Fake) FetchPosts(ctx context.Context, offset, limit int) ([]model.Post, error) {
	if err := f.enter(ctx, OpFetchPosts); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if offset >= len(f.posts) || limit <= 0 {
		return []model.Post{}, nil
	}
	end := min(offset+limit, len(f.posts))
	out := make([]model.Post, end-offset)
	copy(out, f.posts[offset:end])
	return out, nil
}

func (f *Fake) CreatePost(ctx context.Context, req model.CreatePostRequest) error {
	if err := f.enter(ctx, OpCreatePost); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.caller == "" {
		return model.ErrNoIdentity
	}
	if _, ok := f.users[f.caller]; !ok {
		return rejected(OpCreatePost, http.StatusForbidden, "NOT_REGISTERED")
	}
	f.addPostLocked(f.caller, req.Content, req.Image, "", 0)
	return nil
}

func (f *Fake) FetchUser(ctx context.Context, id model.Identity) (*model.User, error) {
	if err := f.enter(ctx, OpFetchUser); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	u, ok := f.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (f *Fake) CreateUser(ctx context.Context, req model.RegisterRequest) error {
	if err := f.enter(ctx, OpCreateUser); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.caller == "" {
		return model.ErrNoIdentity
	}
	if _, ok := f.users[f.caller]; ok {
		return rejected(OpCreateUser, http.StatusConflict, "ALREADY_REGISTERED")
	}
	f.users[f.caller] = model.User{ID: f.caller, Username: req.Username, AvatarEmoji: req.AvatarEmoji}
	return nil
}

func (f *Fake) Follow(ctx context.Context, followee model.Identity) error {
	if err := f.enter(ctx, OpFollow); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.following[f.caller][followee]; ok || followee == f.caller {
		return rejected(OpFollow, http.StatusConflict, "ALREADY_FOLLOWING")
	}
	f.followLocked(f.caller, followee)
	return nil
}

func (f *Fake) Unfollow(ctx context.Context, followee model.Identity) error {
	if err := f.enter(ctx, OpUnfollow); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.following[f.caller][followee]; !ok {
		return rejected(OpUnfollow, http.StatusConflict, "NOT_FOLLOWING")
	}
	delete(f.following[f.caller], followee)
	f.bumpLocked(f.caller, 0, -1)
	f.bumpLocked(followee, -1, 0)
	return nil
}

func (f *Fake) FetchFollowers(ctx context.Context, id model.Identity) (model.FollowSet, error) {
	if err := f.enter(ctx, OpFetchFollowers); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	out := model.FollowSet{}
	for follower, set := range f.following {
		if _, ok := set[id]; ok {
			out = append(out, follower)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (f *Fake) FetchFollowing(ctx context.Context, id model.Identity) (model.FollowSet, error) {
	if err := f.enter(ctx, OpFetchFollowing); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	out := model.FollowSet{}
	for followee := range f.following[id] {
		out = append(out, followee)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (f *Fake) ReactToPost(ctx context.Context, postID int64) error {
	if err := f.enter(ctx, OpReactToPost); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	for i := range f.posts {
		if f.posts[i].ID == postID {
			f.posts[i].ReactionCount++
			return nil
		}
	}
	return rejected(OpReactToPost, http.StatusNotFound, "NOT_FOUND")
}

// =============================================================================
// Internals
// =============================================================================

// enter counts the call, waits on any gate, then pops a queued failure.
func (f *Fake) enter(ctx context.Context, op Op) error {
	f.mu.Lock()
	f.calls[op]++
	gate := f.gates[op]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return &model.TransportError{Op: string(op), Err: ctx.Err()}
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if q := f.failures[op]; len(q) > 0 {
		f.failures[op] = q[1:]
		return q[0]
	}
	return nil
}

func (f *Fake) addPostLocked(author model.Identity, content string, image []byte, imageURL string, reactions int64) model.Post {
	f.clock += 1_000_000_000
	p := model.Post{
		ID:            f.nextID,
		Content:       content,
		Image:         image,
		ImageURL:      imageURL,
		AuthorID:      author,
		ReactionCount: reactions,
		Timestamp:     f.clock,
	}
	f.nextID++
	f.posts = append([]model.Post{p}, f.posts...)
	return p
}

func (f *Fake) followLocked(follower, followee model.Identity) {
	set, ok := f.following[follower]
	if !ok {
		set = make(map[model.Identity]struct{})
		f.following[follower] = set
	}
	if _, ok := set[followee]; ok {
		return
	}
	set[followee] = struct{}{}
	f.bumpLocked(follower, 0, 1)
	f.bumpLocked(followee, 1, 0)
}

func (f *Fake) bumpLocked(id model.Identity, followers, following int64) {
	u, ok := f.users[id]
	if !ok {
		return
	}
	u.FollowersCount = max(u.FollowersCount+followers, 0)
	u.FollowingCount = max(u.FollowingCount+following, 0)
	f.users[id] = u
}

func rejected(op Op, status int, code string) error {
	return &model.TransportError{Op: string(op), Err: &gateway.StatusError{StatusCode: status, Code: code}}
}

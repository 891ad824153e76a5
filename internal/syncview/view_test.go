package syncview

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yymmt/bbs-test/internal/cache"
	"github.com/yymmt/bbs-test/internal/client"
)

const (
	rowHeight = 20
	timeout   = time.Second
	tick      = 5 * time.Millisecond
)

type fakeRenderer struct {
	mu       sync.Mutex
	items    []Item
	offset   int
	replaces int
}

func (r *fakeRenderer) Replace(items []Item) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = items
	r.replaces++
}

func (r *fakeRenderer) Prepend(items []Item) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, items...)
}

func (r *fakeRenderer) ScrollHeight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items) * rowHeight
}

func (r *fakeRenderer) ScrollOffset() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.offset
}

func (r *fakeRenderer) SetScrollOffset(offset int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offset = offset
}

func (r *fakeRenderer) ids() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int64, len(r.items))
	for i, item := range r.items {
		out[i] = item.Post.ID
	}
	return out
}

// fakeServer answers get_posts from an in-memory thread, with the same
// cursor rules as the real endpoint.
type fakeServer struct {
	mu      sync.Mutex
	posts   []client.Post
	users   []client.User
	queries []client.PageQuery
	gate    chan struct{}
}

func newFakeServer(threadID int64, n int) *fakeServer {
	s := &fakeServer{users: []client.User{{UUID: "alice", Name: "Alice"}}}
	for i := 1; i <= n; i++ {
		s.posts = append(s.posts, client.Post{ID: int64(i), ThreadID: threadID, UserUUID: "alice", Body: "post"})
	}
	return s
}

func (s *fakeServer) GetPosts(ctx context.Context, threadID int64, q client.PageQuery) (client.Page, error) {
	s.mu.Lock()
	gate := s.gate
	s.queries = append(s.queries, q)
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return client.Page{}, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	matched := make([]client.Post, 0)
	for _, post := range s.posts {
		if post.ThreadID != threadID {
			continue
		}
		if q.BeforeID > 0 && post.ID >= q.BeforeID {
			continue
		}
		if q.AfterID > 0 && post.ID <= q.AfterID {
			continue
		}
		matched = append(matched, post)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })
	limit := q.Limit
	if limit <= 0 {
		limit = 10
	}
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return client.Page{Posts: matched, Users: s.users}, nil
}

func (s *fakeServer) add(post client.Post) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.posts = append(s.posts, post)
}

func (s *fakeServer) lastQuery() client.PageQuery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queries[len(s.queries)-1]
}

func newTestView(t *testing.T, server *fakeServer) (*View, *fakeRenderer, *cache.Cache) {
	t.Helper()
	c, err := cache.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	r := &fakeRenderer{}
	return New(1, server, c, r), r, c
}

func TestOpenWithEmptyCacheFetchesEverything(t *testing.T) {
	server := newFakeServer(1, 15)
	v, r, _ := newTestView(t, server)

	require.NoError(t, v.Open(context.Background()))

	assert.Equal(t, client.PageQuery{Limit: DefaultDeltaBatch}, server.lastQuery())
	assert.Equal(t, []int64{15, 14, 13, 12, 11, 10, 9, 8, 7, 6}, r.ids())
	assert.Equal(t, "Alice", v.Items()[0].Author)
	assert.Equal(t, int64(6), v.OldestID())
}

func TestOpenRendersCacheThenDelta(t *testing.T) {
	server := newFakeServer(1, 3)
	v, r, c := newTestView(t, server)
	require.NoError(t, c.PutPosts(server.posts[:2]))

	server.gate = make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- v.Open(context.Background()) }()

	require.Eventually(t, func() bool { return len(r.ids()) == 2 }, timeout, tick)
	assert.Equal(t, []int64{2, 1}, r.ids())

	close(server.gate)
	require.NoError(t, <-done)
	assert.Equal(t, client.PageQuery{Limit: DefaultDeltaBatch, AfterID: 2}, server.lastQuery())
	assert.Equal(t, []int64{3, 2, 1}, r.ids())
}

func TestOpenDeltaPagesThroughLargeGap(t *testing.T) {
	server := newFakeServer(1, 170)
	v, r, c := newTestView(t, server)
	require.NoError(t, c.PutPosts(server.posts[:20]))
	v.DeltaBatch = 50

	require.NoError(t, v.Open(context.Background()))
	server.mu.Lock()
	queries := append([]client.PageQuery(nil), server.queries...)
	server.mu.Unlock()
	assert.Equal(t, []client.PageQuery{
		{Limit: 50, AfterID: 20},
		{Limit: 50, AfterID: 20, BeforeID: 121},
		{Limit: 50, AfterID: 20, BeforeID: 71},
		{Limit: 50, AfterID: 20, BeforeID: 21},
	}, queries)
	assert.Equal(t, int64(170), r.ids()[0])

	for v.HasMore() {
		require.NoError(t, v.LoadOlder(context.Background()))
	}
	ids := r.ids()
	require.Len(t, ids, 170)
	for i, id := range ids {
		assert.Equal(t, int64(170-i), id)
	}
}

func TestOpenWithoutNewPostsKeepsRender(t *testing.T) {
	server := newFakeServer(1, 2)
	v, r, c := newTestView(t, server)
	require.NoError(t, c.PutPosts(server.posts))

	require.NoError(t, v.Open(context.Background()))
	assert.Equal(t, 1, r.replaces)
}

func TestLoadOlderUntilExhausted(t *testing.T) {
	server := newFakeServer(1, 15)
	v, r, _ := newTestView(t, server)
	require.NoError(t, v.Open(context.Background()))
	r.SetScrollOffset(35)

	require.NoError(t, v.LoadOlder(context.Background()))
	assert.Equal(t, client.PageQuery{Limit: DefaultLimit, BeforeID: 6}, server.lastQuery())
	assert.Equal(t, []int64{15, 14, 13, 12, 11, 10, 9, 8, 7, 6, 5, 4, 3, 2, 1}, r.ids())
	assert.False(t, v.HasMore())
	assert.Equal(t, 35+5*rowHeight, r.ScrollOffset())

	queries := len(server.queries)
	require.NoError(t, v.LoadOlder(context.Background()))
	assert.Len(t, server.queries, queries)
}

func TestLoadOlderServedFromCache(t *testing.T) {
	server := newFakeServer(1, 30)
	v, r, c := newTestView(t, server)
	require.NoError(t, c.PutPosts(server.posts))

	require.NoError(t, v.Open(context.Background()))
	queries := len(server.queries)

	require.NoError(t, v.LoadOlder(context.Background()))
	assert.Len(t, server.queries, queries)
	assert.Len(t, r.ids(), 20)
	assert.Equal(t, int64(11), v.OldestID())
	assert.True(t, v.HasMore())
	assert.Equal(t, 10*rowHeight, r.ScrollOffset())
}

func TestConcurrentLoadsAreDropped(t *testing.T) {
	server := newFakeServer(1, 5)
	server.gate = make(chan struct{})
	v, _, _ := newTestView(t, server)

	done := make(chan error, 1)
	go func() { done <- v.Open(context.Background()) }()
	require.Eventually(t, func() bool {
		server.mu.Lock()
		defer server.mu.Unlock()
		return len(server.queries) == 1
	}, timeout, tick)

	assert.ErrorIs(t, v.Open(context.Background()), ErrBusy)
	close(server.gate)
	require.NoError(t, <-done)
	assert.Len(t, server.queries, 1)
}

func TestReopenDiscardsStaleResult(t *testing.T) {
	server := newFakeServer(1, 2)
	server.gate = make(chan struct{})
	v, r, _ := newTestView(t, server)

	stale := make(chan error, 1)
	go func() { stale <- v.Open(context.Background()) }()
	require.Eventually(t, func() bool {
		server.mu.Lock()
		defer server.mu.Unlock()
		return len(server.queries) == 1
	}, timeout, tick)

	v.Close()
	server.mu.Lock()
	gate := server.gate
	server.gate = nil
	server.mu.Unlock()
	server.add(client.Post{ID: 3, ThreadID: 1, UserUUID: "alice"})
	require.NoError(t, v.Open(context.Background()))
	assert.Equal(t, []int64{3, 2, 1}, r.ids())

	close(gate)
	assert.ErrorIs(t, <-stale, ErrSuperseded)
	assert.Equal(t, []int64{3, 2, 1}, r.ids())
}

func TestEvictAndVisibility(t *testing.T) {
	server := newFakeServer(1, 6)
	v, r, _ := newTestView(t, server)
	assert.False(t, v.IsOpenAndVisible(1))

	require.NoError(t, v.Open(context.Background()))
	assert.True(t, v.IsOpenAndVisible(1))
	assert.False(t, v.IsOpenAndVisible(2))

	v.SetVisible(false)
	assert.False(t, v.IsOpenAndVisible(1))

	v.Evict(5)
	assert.Equal(t, []int64{6, 4, 3, 2, 1}, r.ids())
	replaces := r.replaces
	v.Evict(99)
	assert.Equal(t, replaces, r.replaces)

	v.Close()
	assert.ErrorIs(t, v.LoadOlder(context.Background()), ErrClosed)
}

// Package syncview drives one open thread on the client: it renders from
// the local cache first, then reconciles with the server.
package syncview

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/yymmt/bbs-test/internal/client"
)

const (
	DefaultLimit      = 10
	DefaultDeltaBatch = 100
)

var (
	// ErrBusy is returned when a load is already in flight. The request is
	// dropped, not queued.
	ErrBusy = errors.New("load already in flight")
	// ErrSuperseded is returned by a load whose view was closed or
	// reopened before the result arrived. The result is discarded.
	ErrSuperseded = errors.New("load superseded")
	ErrClosed     = errors.New("view closed")
)

type Remote interface {
	GetPosts(ctx context.Context, threadID int64, q client.PageQuery) (client.Page, error)
}

type Cache interface {
	PutPosts(posts []client.Post) error
	PutUsers(users []client.User) error
	LatestPosts(threadID int64, limit int) ([]client.Post, error)
	PostsBefore(threadID, beforeID int64, limit int) ([]client.Post, error)
	MaxPostID(threadID int64) (int64, error)
	UserNames(ids []string) (map[string]string, error)
}

// Item is one rendered post.
type Item struct {
	Post   client.Post
	Author string
}

// Renderer shows items newest first. Heights and offsets are in whatever
// unit the renderer scrolls by.
type Renderer interface {
	Replace(items []Item)
	Prepend(items []Item)
	ScrollHeight() int
	ScrollOffset() int
	SetScrollOffset(offset int)
}

type View struct {
	ThreadID   int64
	Limit      int
	DeltaBatch int

	remote   Remote
	cache    Cache
	renderer Renderer

	mu         sync.Mutex
	generation uint64
	loading    bool
	loadingGen uint64
	open       bool
	visible    bool
	hasMore    bool
	rendered   []Item
}

func New(threadID int64, remote Remote, cache Cache, renderer Renderer) *View {
	return &View{
		ThreadID:   threadID,
		Limit:      DefaultLimit,
		DeltaBatch: DefaultDeltaBatch,
		remote:     remote,
		cache:      cache,
		renderer:   renderer,
	}
}

// begin takes the single load slot. A fresh generation supersedes any
// load started before it.
func (v *View) begin(fresh bool) (uint64, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.loading {
		return 0, ErrBusy
	}
	if fresh {
		v.generation++
	}
	v.loading = true
	v.loadingGen = v.generation
	return v.generation, nil
}

func (v *View) end(gen uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.loadingGen == gen {
		v.loading = false
	}
}

// Open renders cached posts, then fetches everything newer than the
// newest cached post, batch by batch, and re-renders when anything
// arrived.
func (v *View) Open(ctx context.Context) error {
	gen, err := v.begin(true)
	if err != nil {
		return err
	}
	defer v.end(gen)

	v.mu.Lock()
	v.open = true
	v.visible = true
	v.hasMore = true
	v.rendered = nil
	v.mu.Unlock()

	cached, err := v.cache.LatestPosts(v.ThreadID, v.Limit)
	if err != nil {
		return fmt.Errorf("read cache: %w", err)
	}
	if len(cached) > 0 {
		if err := v.replace(gen, cached); err != nil {
			return err
		}
	}

	maxID, err := v.cache.MaxPostID(v.ThreadID)
	if err != nil {
		return fmt.Errorf("read cache: %w", err)
	}
	fetched, err := v.fetchDelta(ctx, gen, maxID)
	if err != nil {
		return err
	}
	if fetched == 0 {
		return nil
	}

	latest, err := v.cache.LatestPosts(v.ThreadID, v.Limit)
	if err != nil {
		return fmt.Errorf("read cache: %w", err)
	}
	return v.replace(gen, latest)
}

// fetchDelta stores every post newer than afterID. The server answers
// newest first, so each full batch is followed by one bounded above by
// its oldest post until a short batch reaches the floor.
func (v *View) fetchDelta(ctx context.Context, gen uint64, afterID int64) (int, error) {
	batch := v.DeltaBatch
	if batch <= 0 {
		batch = DefaultDeltaBatch
	}
	var beforeID int64
	fetched := 0
	for {
		page, err := v.remote.GetPosts(ctx, v.ThreadID, client.PageQuery{Limit: batch, AfterID: afterID, BeforeID: beforeID})
		if err != nil {
			return fetched, fmt.Errorf("fetch delta: %w", err)
		}
		if !v.current(gen) {
			return fetched, ErrSuperseded
		}
		if err := v.persist(page); err != nil {
			return fetched, err
		}
		fetched += len(page.Posts)
		if len(page.Posts) < batch {
			return fetched, nil
		}
		oldest := page.Posts[0].ID
		for _, post := range page.Posts[1:] {
			oldest = min(oldest, post.ID)
		}
		if beforeID != 0 && oldest >= beforeID {
			return fetched, nil
		}
		beforeID = oldest
	}
}

// LoadOlder prepends the page before the oldest rendered post, from the
// cache when it holds a full page and from the server otherwise. It does
// nothing once the server reported no more pages.
func (v *View) LoadOlder(ctx context.Context) error {
	v.mu.Lock()
	if !v.open {
		v.mu.Unlock()
		return ErrClosed
	}
	if !v.hasMore || len(v.rendered) == 0 {
		v.mu.Unlock()
		return nil
	}
	v.mu.Unlock()

	gen, err := v.begin(false)
	if err != nil {
		return err
	}
	defer v.end(gen)

	oldest := v.OldestID()
	cached, err := v.cache.PostsBefore(v.ThreadID, oldest, v.Limit)
	if err != nil {
		return fmt.Errorf("read cache: %w", err)
	}
	if len(cached) >= v.Limit {
		return v.prepend(gen, cached)
	}

	page, err := v.remote.GetPosts(ctx, v.ThreadID, client.PageQuery{Limit: v.Limit, BeforeID: oldest})
	if err != nil {
		return fmt.Errorf("fetch older: %w", err)
	}
	if !v.current(gen) {
		return ErrSuperseded
	}
	if err := v.persist(page); err != nil {
		return err
	}
	if len(page.Posts) < v.Limit {
		v.mu.Lock()
		v.hasMore = false
		v.mu.Unlock()
	}
	if len(page.Posts) == 0 {
		return nil
	}
	return v.prepend(gen, page.Posts)
}

// Close supersedes any load in flight and frees the load slot.
func (v *View) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.generation++
	v.loading = false
	v.open = false
	v.visible = false
	v.rendered = nil
}

// Evict drops a post from the rendered list and re-renders when it was
// shown.
func (v *View) Evict(postID int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	kept := v.rendered[:0:0]
	for _, item := range v.rendered {
		if item.Post.ID != postID {
			kept = append(kept, item)
		}
	}
	if len(kept) == len(v.rendered) {
		return
	}
	v.rendered = kept
	v.renderer.Replace(append([]Item(nil), kept...))
}

func (v *View) SetVisible(visible bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.visible = visible
}

// IsOpenAndVisible reports whether threadID is the open thread and the
// user can currently see it.
func (v *View) IsOpenAndVisible(threadID int64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.open && v.visible && v.ThreadID == threadID
}

func (v *View) HasMore() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.hasMore
}

// OldestID is the id of the oldest rendered post, or zero.
func (v *View) OldestID() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.rendered) == 0 {
		return 0
	}
	return v.rendered[len(v.rendered)-1].Post.ID
}

// Items returns a copy of the rendered list, newest first.
func (v *View) Items() []Item {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]Item(nil), v.rendered...)
}

func (v *View) current(gen uint64) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.open && v.generation == gen
}

func (v *View) persist(page client.Page) error {
	if err := v.cache.PutPosts(page.Posts); err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	if err := v.cache.PutUsers(page.Users); err != nil {
		return fmt.Errorf("write cache: %w", err)
	}
	return nil
}

func (v *View) items(posts []client.Post) ([]Item, error) {
	seen := make(map[string]struct{}, len(posts))
	ids := make([]string, 0, len(posts))
	for _, post := range posts {
		if _, ok := seen[post.UserUUID]; !ok {
			seen[post.UserUUID] = struct{}{}
			ids = append(ids, post.UserUUID)
		}
	}
	names, err := v.cache.UserNames(ids)
	if err != nil {
		return nil, fmt.Errorf("read cache: %w", err)
	}
	items := make([]Item, len(posts))
	for i, post := range posts {
		items[i] = Item{Post: post, Author: names[post.UserUUID]}
	}
	return items, nil
}

func (v *View) replace(gen uint64, posts []client.Post) error {
	items, err := v.items(posts)
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.open || v.generation != gen {
		return ErrSuperseded
	}
	v.rendered = items
	v.renderer.Replace(append([]Item(nil), items...))
	return nil
}

// prepend adds older items at the top and shifts the scroll offset by the
// added height so the visible posts stay in place.
func (v *View) prepend(gen uint64, posts []client.Post) error {
	items, err := v.items(posts)
	if err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.open || v.generation != gen {
		return ErrSuperseded
	}
	before := v.renderer.ScrollHeight()
	v.rendered = append(v.rendered, items...)
	v.renderer.Prepend(append([]Item(nil), items...))
	after := v.renderer.ScrollHeight()
	v.renderer.SetScrollOffset(v.renderer.ScrollOffset() + after - before)
	return nil
}

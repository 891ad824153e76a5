package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/yymmt/bbs-test/internal/push"
)

const (
	DefaultTitle = "New Notification"
	DefaultIcon  = "images/icons/icon-192x192.png"
	DefaultURL   = "./"

	DefaultQueryTimeout = 400 * time.Millisecond
)

// Outcome is what HandlePush did with a message.
type Outcome string

const (
	Shown      Outcome = "shown"
	Suppressed Outcome = "suppressed"
	Evicted    Outcome = "evicted"
	Ignored    Outcome = "ignored"
)

type Notification struct {
	Title string
	Body  string
	Icon  string
	URL   string
}

type Notifier interface {
	Show(ctx context.Context, n Notification) error
}

// Opener starts a new foreground instance at url.
type Opener interface {
	Open(ctx context.Context, url string) error
}

type postCache interface {
	DeletePost(threadID, postID int64) error
}

// Worker runs apart from any foreground instance and reaches them only
// through the hub.
type Worker struct {
	Hub          *Hub
	Cache        postCache
	Notifier     Notifier
	Opener       Opener
	QueryTimeout time.Duration
}

func NewWorker(hub *Hub, cache postCache, notifier Notifier, opener Opener) *Worker {
	return &Worker{
		Hub:          hub,
		Cache:        cache,
		Notifier:     notifier,
		Opener:       opener,
		QueryTimeout: DefaultQueryTimeout,
	}
}

// HandlePush processes one delivered payload. Deletions update the cache
// and open views and never show anything. New posts are shown unless some
// instance has the thread open and visible.
func (w *Worker) HandlePush(ctx context.Context, p push.Payload) (Outcome, error) {
	switch p.Type {
	case push.TypeDelete:
		if w.Cache != nil {
			if err := w.Cache.DeletePost(p.ThreadID, p.PostID); err != nil {
				return Evicted, fmt.Errorf("evict post %d: %w", p.PostID, err)
			}
		}
		for _, in := range w.Hub.Instances() {
			ectx, cancel := context.WithTimeout(ctx, w.timeout())
			in.evict(ectx, p.PostID)
			cancel()
		}
		return Evicted, nil
	case push.TypeCreate:
	default:
		slog.Warn("ignoring push payload", "type", p.Type, "thread_id", p.ThreadID)
		return Ignored, nil
	}

	if w.anyOpen(ctx, p.ThreadID) {
		return Suppressed, nil
	}
	n := Notification{Title: p.Title, Body: p.Body, Icon: p.Icon, URL: p.URL}
	if n.Title == "" {
		n.Title = DefaultTitle
	}
	if n.Icon == "" {
		n.Icon = DefaultIcon
	}
	if n.URL == "" {
		n.URL = DefaultURL
	}
	if err := w.Notifier.Show(ctx, n); err != nil {
		return Shown, fmt.Errorf("show notification: %w", err)
	}
	return Shown, nil
}

// anyOpen asks every instance in parallel, each with its own deadline.
func (w *Worker) anyOpen(ctx context.Context, threadID int64) bool {
	instances := w.Hub.Instances()
	if len(instances) == 0 {
		return false
	}
	timeout := w.timeout()

	answers := make(chan bool, len(instances))
	var wg sync.WaitGroup
	for _, in := range instances {
		wg.Add(1)
		go func(in *Instance) {
			defer wg.Done()
			qctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			answers <- in.Ask(qctx, threadID)
		}(in)
	}
	wg.Wait()
	close(answers)

	for open := range answers {
		if open {
			return true
		}
	}
	return false
}

func (w *Worker) timeout() time.Duration {
	if w.QueryTimeout <= 0 {
		return DefaultQueryTimeout
	}
	return w.QueryTimeout
}

// HandleClick navigates the first registered instance to url, or opens a
// new one when none is registered.
func (w *Worker) HandleClick(ctx context.Context, url string) error {
	if url == "" {
		url = DefaultURL
	}
	for _, in := range w.Hub.Instances() {
		if in.navigate(ctx, url) {
			return nil
		}
	}
	if w.Opener == nil {
		return fmt.Errorf("no instance to open %s", url)
	}
	return w.Opener.Open(ctx, url)
}

// Package notify decides what to do with a delivered push message: drop
// it, evict a deleted post, or surface a notification.
package notify

import (
	"context"
	"sync"
)

// Foreground is an open client window. Its methods are only ever called
// from the window's own mailbox goroutine.
type Foreground interface {
	IsOpenAndVisible(threadID int64) bool
	Evict(postID int64)
	Navigate(url string)
}

// Query asks an instance whether ThreadID is open and visible. The answer
// is sent on Reply, which must have room for one value.
type Query struct {
	ThreadID int64
	Reply    chan bool
}

// Instance is a registered foreground window with its mailbox.
type Instance struct {
	fg          Foreground
	queries     chan Query
	evictions   chan int64
	navigations chan string
	done        chan struct{}
	exited      chan struct{}
	once        sync.Once
}

func (in *Instance) run() {
	defer close(in.exited)
	for {
		select {
		case q := <-in.queries:
			q.Reply <- in.fg.IsOpenAndVisible(q.ThreadID)
		case postID := <-in.evictions:
			in.fg.Evict(postID)
		case url := <-in.navigations:
			in.fg.Navigate(url)
		case <-in.done:
			return
		}
	}
}

// Ask queries the instance and waits for the reply until ctx ends. An
// instance that does not answer in time counts as not open.
func (in *Instance) Ask(ctx context.Context, threadID int64) bool {
	reply := make(chan bool, 1)
	select {
	case in.queries <- Query{ThreadID: threadID, Reply: reply}:
	case <-in.done:
		return false
	case <-ctx.Done():
		return false
	}
	select {
	case open := <-reply:
		return open
	case <-in.done:
		return false
	case <-ctx.Done():
		return false
	}
}

func (in *Instance) evict(ctx context.Context, postID int64) {
	select {
	case in.evictions <- postID:
	case <-in.done:
	case <-ctx.Done():
	}
}

func (in *Instance) navigate(ctx context.Context, url string) bool {
	select {
	case in.navigations <- url:
		return true
	case <-in.done:
		return false
	case <-ctx.Done():
		return false
	}
}

func (in *Instance) stop() {
	in.once.Do(func() { close(in.done) })
}

// Hub tracks the foreground instances in registration order.
type Hub struct {
	mu        sync.Mutex
	instances []*Instance
}

func NewHub() *Hub {
	return &Hub{}
}

// Register starts a mailbox for fg. The returned func unregisters it and
// returns once the mailbox goroutine has exited.
func (h *Hub) Register(fg Foreground) (*Instance, func()) {
	in := &Instance{
		fg:          fg,
		queries:     make(chan Query),
		evictions:   make(chan int64),
		navigations: make(chan string),
		done:        make(chan struct{}),
		exited:      make(chan struct{}),
	}
	go in.run()

	h.mu.Lock()
	h.instances = append(h.instances, in)
	h.mu.Unlock()

	return in, func() {
		in.stop()
		<-in.exited
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, other := range h.instances {
			if other == in {
				h.instances = append(h.instances[:i], h.instances[i+1:]...)
				break
			}
		}
	}
}

// Instances returns a snapshot of the registered instances.
func (h *Hub) Instances() []*Instance {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*Instance(nil), h.instances...)
}

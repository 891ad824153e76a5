package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/yymmt/bbs-test/internal/syncview"
)

// lockedWriter serialises writes from the mailbox goroutine and the
// command goroutine.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

// screen is a line-oriented syncview.Renderer. Each item is one row, so
// heights and offsets count posts. With live set, every change is printed
// as it happens.
type screen struct {
	mu     sync.Mutex
	out    io.Writer
	live   bool
	items  []syncview.Item
	offset int
}

func (s *screen) Replace(items []syncview.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append([]syncview.Item(nil), items...)
	if s.live {
		fmt.Fprintln(s.out, "----")
		fmt.Fprintln(s.out, formatItems(s.items))
	}
}

func (s *screen) Prepend(items []syncview.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, items...)
	if s.live {
		fmt.Fprintf(s.out, "---- %d older\n", len(items))
		fmt.Fprintln(s.out, formatItems(items))
	}
}

func (s *screen) ScrollHeight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *screen) ScrollOffset() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offset
}

func (s *screen) SetScrollOffset(offset int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offset = offset
}

// formatItems lists items (newest first) in reading order.
func formatItems(items []syncview.Item) string {
	if len(items) == 0 {
		return "no posts"
	}
	var b strings.Builder
	for i := len(items) - 1; i >= 0; i-- {
		it := items[i]
		author := it.Author
		if author == "" {
			author = it.Post.UserUUID
		}
		fmt.Fprintf(&b, "#%d %s (%s)\n", it.Post.ID, author, humanize.Time(it.Post.CreatedAt))
		for _, line := range strings.Split(it.Post.Body, "\n") {
			fmt.Fprintf(&b, "    %s\n", line)
		}
	}
	return strings.TrimSuffix(b.String(), "\n")
}

type itemJSON struct {
	ID        int64  `json:"id"`
	ThreadID  int64  `json:"thread_id"`
	UserUUID  string `json:"user_uuid"`
	Author    string `json:"author"`
	Body      string `json:"body"`
	CreatedAt string `json:"created_at"`
}

func itemsJSON(items []syncview.Item) []itemJSON {
	out := make([]itemJSON, 0, len(items))
	for _, it := range items {
		out = append(out, itemJSON{
			ID:        it.Post.ID,
			ThreadID:  it.Post.ThreadID,
			UserUUID:  it.Post.UserUUID,
			Author:    it.Author,
			Body:      it.Post.Body,
			CreatedAt: it.Post.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	return out
}

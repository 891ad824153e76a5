// Package push composes notification payloads and delivers them to the
// web-push subscriptions of thread members.
package push

import (
	"strconv"
	"strings"
)

const (
	TypeCreate = "create"
	TypeDelete = "delete"
)

// PreviewRunes is the number of characters kept in a notification body.
const PreviewRunes = 50

// Payload is the JSON document delivered to subscribers. Delete payloads
// carry only the identifiers.
type Payload struct {
	Type     string `json:"type"`
	ThreadID int64  `json:"thread_id"`
	PostID   int64  `json:"post_id"`
	Title    string `json:"title,omitempty"`
	Body     string `json:"body,omitempty"`
	URL      string `json:"url,omitempty"`
	Icon     string `json:"icon,omitempty"`
}

// Preview cuts text to at most n characters and marks the cut with "...".
// Counting is by rune so multi-byte text is never split mid-character.
func Preview(text string, n int) string {
	if n <= 0 {
		return ""
	}
	count := 0
	for i := range text {
		if count == n {
			return text[:i] + "..."
		}
		count++
	}
	return text
}

// Composer fills in the parts of a payload that come from configuration.
type Composer struct {
	AppURL string
	Icon   string
}

// ThreadURL is the relative link that opens threadID in the web client.
func (c Composer) ThreadURL(threadID int64) string {
	base := c.AppURL
	if base == "" {
		base = "index.html"
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "thread_id=" + strconv.FormatInt(threadID, 10)
}

// Created announces a new member post in a thread titled threadTitle.
func (c Composer) Created(threadTitle string, threadID, postID int64, body string) Payload {
	return c.withTitle("New post in "+threadTitle, threadID, postID, body)
}

// Summary announces an AI summary post.
func (c Composer) Summary(threadTitle string, threadID, postID int64, body string) Payload {
	return c.withTitle("AI Summary in "+threadTitle, threadID, postID, body)
}

func (c Composer) Deleted(threadID, postID int64) Payload {
	return Payload{Type: TypeDelete, ThreadID: threadID, PostID: postID}
}

func (c Composer) withTitle(title string, threadID, postID int64, body string) Payload {
	return Payload{
		Type:     TypeCreate,
		ThreadID: threadID,
		PostID:   postID,
		Title:    title,
		Body:     Preview(body, PreviewRunes),
		URL:      c.ThreadURL(threadID),
		Icon:     c.Icon,
	}
}

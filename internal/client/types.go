// Package client talks to the bulletin board action endpoint.
package client

import (
	"fmt"
	"time"
)

type Post struct {
	ID        int64     `json:"id"`
	ThreadID  int64     `json:"thread_id"`
	UserUUID  string    `json:"user_uuid"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

type User struct {
	UUID string `json:"user_uuid"`
	Name string `json:"name"`
}

type Thread struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Page is one get_posts response: posts newest first plus their authors.
type Page struct {
	Posts []Post `json:"posts"`
	Users []User `json:"users"`
}

type ThreadSettings struct {
	Title      string `json:"title"`
	Members    []User `json:"members"`
	Candidates []User `json:"candidates"`
}

type Invite struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

type TransferCode struct {
	Code     string    `json:"code"`
	ExpireAt time.Time `json:"expire_at"`
}

// PageQuery mirrors the get_posts cursor parameters. Zero fields are not
// sent.
type PageQuery struct {
	Limit    int   `json:"limit,omitempty"`
	BeforeID int64 `json:"before_id,omitempty"`
	AfterID  int64 `json:"after_id,omitempty"`
}

// APIError is a coded failure returned by the server.
type APIError struct {
	Status int
	Code   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Code)
}

package store

import (
	"context"
	"time"
)

type User struct {
	UUID string
	Name string
}

type Thread struct {
	ID        int64
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Post is a message in a thread. DeletedAt is set by soft deletion; every
// read path filters such rows out.
type Post struct {
	ID        int64
	ThreadID  int64
	UserUUID  string
	Body      string
	CreatedAt time.Time
	DeletedAt *time.Time
}

// PostQuery selects a page of live posts, newest first. BeforeID and
// AfterID are exclusive bounds and are ignored when zero.
type PostQuery struct {
	ThreadID int64
	Limit    int
	Offset   int
	BeforeID int64
	AfterID  int64
}

type PushSubscription struct {
	Endpoint  string
	UserUUID  string
	P256dh    string
	Auth      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type TransferCode struct {
	UserUUID string
	Code     string
	ExpireAt time.Time
	UsedAt   *time.Time
}

type ThreadInvite struct {
	ThreadID  int64
	Token     string
	ExpiresAt time.Time
}

// TranscriptLine is one post of a summarization transcript.
type TranscriptLine struct {
	PostID int64
	Name   string
	Body   string
}

// Store is the full persistence surface implemented by MemoryStore and
// PostgresStore.
type Store interface {
	Ping(context.Context) error
	UpsertUser(context.Context, string, string) error
	GetUser(context.Context, string) (User, error)
	UserNames(context.Context, []string) ([]User, error)
	IsMember(context.Context, int64, string) (bool, error)
	ListPosts(context.Context, PostQuery) ([]Post, error)
	GetPost(context.Context, int64) (Post, error)
	CreatePost(context.Context, int64, string, string) (Post, error)
	SoftDeletePost(context.Context, int64) error
	RecentTranscript(context.Context, int64, int) ([]TranscriptLine, error)
	CreateThread(context.Context, string, string) (Thread, error)
	GetThread(context.Context, int64) (Thread, error)
	ListThreads(context.Context, string) ([]Thread, error)
	UpdateThreadTitle(context.Context, int64, string) error
	ListMembers(context.Context, int64) ([]User, error)
	ListCandidates(context.Context, int64, string) ([]User, error)
	AddMember(context.Context, int64, string) error
	RemoveMember(context.Context, int64, string) error
	InsertTransferCode(context.Context, TransferCode) error
	ConsumeTransferCode(context.Context, string, time.Time) (string, error)
	InsertInvite(context.Context, ThreadInvite) error
	InviteValid(context.Context, int64, string, time.Time) (bool, error)
	UpsertSubscription(context.Context, PushSubscription) error
	ThreadSubscriptions(context.Context, int64, string) ([]PushSubscription, error)
	DeleteSubscription(context.Context, string) error
}

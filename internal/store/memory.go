package store

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"
)

type membershipKey struct {
	threadID int64
	userUUID string
}

// MemoryStore keeps the whole schema in process memory. It mirrors the
// query semantics of PostgresStore and backs BBS_STORE=memory and tests.
type MemoryStore struct {
	mu  sync.Mutex
	now func() time.Time

	users         map[string]User
	threads       map[int64]Thread
	members       map[membershipKey]time.Time
	posts         map[int64]Post
	subscriptions map[string]PushSubscription
	transferCodes []TransferCode
	invites       map[string]ThreadInvite

	nextThreadID int64
	nextPostID   int64
}

func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		now:           now,
		users:         make(map[string]User),
		threads:       make(map[int64]Thread),
		members:       make(map[membershipKey]time.Time),
		posts:         make(map[int64]Post),
		subscriptions: make(map[string]PushSubscription),
		invites:       make(map[string]ThreadInvite),
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) UpsertUser(_ context.Context, userUUID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[userUUID] = User{UUID: userUUID, Name: name}
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, userUUID string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[userUUID]
	if !ok {
		return User{}, sql.ErrNoRows
	}
	return user, nil
}

func (s *MemoryStore) UserNames(_ context.Context, userUUIDs []string) ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{}, len(userUUIDs))
	items := make([]User, 0, len(userUUIDs))
	for _, id := range userUUIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if user, ok := s.users[id]; ok {
			items = append(items, user)
		}
	}
	sortUsers(items)
	return items, nil
}

func (s *MemoryStore) IsMember(_ context.Context, threadID int64, userUUID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.members[membershipKey{threadID, userUUID}]
	return ok, nil
}

func (s *MemoryStore) ListPosts(_ context.Context, q PostQuery) ([]Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	matched := make([]Post, 0)
	for _, post := range s.posts {
		if post.ThreadID != q.ThreadID || post.DeletedAt != nil {
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
	if q.Offset >= len(matched) {
		return []Post{}, nil
	}
	if q.Offset > 0 {
		matched = matched[q.Offset:]
	}
	if q.Limit >= 0 && len(matched) > q.Limit {
		matched = matched[:q.Limit]
	}
	return matched, nil
}

func (s *MemoryStore) GetPost(_ context.Context, postID int64) (Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	post, ok := s.posts[postID]
	if !ok || post.DeletedAt != nil {
		return Post{}, sql.ErrNoRows
	}
	return post, nil
}

func (s *MemoryStore) CreatePost(_ context.Context, threadID int64, userUUID, body string) (Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.nextPostID++
	post := Post{ID: s.nextPostID, ThreadID: threadID, UserUUID: userUUID, Body: body, CreatedAt: now}
	s.posts[post.ID] = post
	if thread, ok := s.threads[threadID]; ok {
		thread.UpdatedAt = now
		s.threads[threadID] = thread
	}
	return post, nil
}

func (s *MemoryStore) SoftDeletePost(_ context.Context, postID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	post, ok := s.posts[postID]
	if !ok || post.DeletedAt != nil {
		return sql.ErrNoRows
	}
	now := s.now()
	post.DeletedAt = &now
	s.posts[postID] = post
	return nil
}

func (s *MemoryStore) RecentTranscript(_ context.Context, threadID int64, limit int) ([]TranscriptLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	live := make([]Post, 0)
	for _, post := range s.posts {
		if post.ThreadID == threadID && post.DeletedAt == nil {
			live = append(live, post)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].ID > live[j].ID })
	if len(live) > limit {
		live = live[:limit]
	}
	lines := make([]TranscriptLine, len(live))
	for i, post := range live {
		lines[len(live)-1-i] = TranscriptLine{PostID: post.ID, Name: s.users[post.UserUUID].Name, Body: post.Body}
	}
	return lines, nil
}

func (s *MemoryStore) CreateThread(_ context.Context, title, creatorUUID string) (Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.nextThreadID++
	thread := Thread{ID: s.nextThreadID, Title: title, CreatedAt: now, UpdatedAt: now}
	s.threads[thread.ID] = thread
	s.members[membershipKey{thread.ID, creatorUUID}] = now
	return thread, nil
}

func (s *MemoryStore) GetThread(_ context.Context, threadID int64) (Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	thread, ok := s.threads[threadID]
	if !ok {
		return Thread{}, sql.ErrNoRows
	}
	return thread, nil
}

func (s *MemoryStore) ListThreads(_ context.Context, userUUID string) ([]Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]Thread, 0)
	for key := range s.members {
		if key.userUUID != userUUID {
			continue
		}
		if thread, ok := s.threads[key.threadID]; ok {
			items = append(items, thread)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].UpdatedAt.Equal(items[j].UpdatedAt) {
			return items[i].UpdatedAt.After(items[j].UpdatedAt)
		}
		return items[i].ID > items[j].ID
	})
	return items, nil
}

func (s *MemoryStore) UpdateThreadTitle(_ context.Context, threadID int64, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	thread, ok := s.threads[threadID]
	if !ok {
		return sql.ErrNoRows
	}
	thread.Title = title
	thread.UpdatedAt = s.now()
	s.threads[threadID] = thread
	return nil
}

func (s *MemoryStore) ListMembers(_ context.Context, threadID int64) ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	type joined struct {
		user User
		at   time.Time
	}
	rows := make([]joined, 0)
	for key, at := range s.members {
		if key.threadID != threadID {
			continue
		}
		if user, ok := s.users[key.userUUID]; ok {
			rows = append(rows, joined{user: user, at: at})
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].at.Equal(rows[j].at) {
			return rows[i].at.Before(rows[j].at)
		}
		return rows[i].user.UUID < rows[j].user.UUID
	})
	items := make([]User, len(rows))
	for i, row := range rows {
		items[i] = row.user
	}
	return items, nil
}

func (s *MemoryStore) ListCandidates(_ context.Context, threadID int64, userUUID string) ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	mine := make(map[int64]struct{})
	for key := range s.members {
		if key.userUUID == userUUID {
			mine[key.threadID] = struct{}{}
		}
	}
	seen := make(map[string]struct{})
	items := make([]User, 0)
	for key := range s.members {
		if _, ok := mine[key.threadID]; !ok {
			continue
		}
		if _, already := s.members[membershipKey{threadID, key.userUUID}]; already {
			continue
		}
		if _, dup := seen[key.userUUID]; dup {
			continue
		}
		if user, ok := s.users[key.userUUID]; ok {
			seen[key.userUUID] = struct{}{}
			items = append(items, user)
		}
	}
	sortUsers(items)
	return items, nil
}

func (s *MemoryStore) AddMember(_ context.Context, threadID int64, userUUID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := membershipKey{threadID, userUUID}
	if _, ok := s.members[key]; !ok {
		s.members[key] = s.now()
	}
	return nil
}

func (s *MemoryStore) RemoveMember(_ context.Context, threadID int64, userUUID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.members, membershipKey{threadID, userUUID})
	return nil
}

// MemberCount is used by tests to assert membership rows are not duplicated.
func (s *MemoryStore) MemberCount(threadID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for key := range s.members {
		if key.threadID == threadID {
			count++
		}
	}
	return count
}

func (s *MemoryStore) InsertTransferCode(_ context.Context, code TransferCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transferCodes = append(s.transferCodes, code)
	return nil
}

func (s *MemoryStore) ConsumeTransferCode(_ context.Context, code string, now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.transferCodes) - 1; i >= 0; i-- {
		item := s.transferCodes[i]
		if item.Code != code || item.UsedAt != nil || !item.ExpireAt.After(now) {
			continue
		}
		used := now
		s.transferCodes[i].UsedAt = &used
		return item.UserUUID, nil
	}
	return "", sql.ErrNoRows
}

func (s *MemoryStore) InsertInvite(_ context.Context, invite ThreadInvite) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.invites[invite.Token] = invite
	return nil
}

func (s *MemoryStore) InviteValid(_ context.Context, threadID int64, token string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	invite, ok := s.invites[token]
	return ok && invite.ThreadID == threadID && invite.ExpiresAt.After(now), nil
}

func (s *MemoryStore) UpsertSubscription(_ context.Context, sub PushSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if existing, ok := s.subscriptions[sub.Endpoint]; ok {
		sub.CreatedAt = existing.CreatedAt
	} else {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now
	s.subscriptions[sub.Endpoint] = sub
	return nil
}

func (s *MemoryStore) ThreadSubscriptions(_ context.Context, threadID int64, excludeUUID string) ([]PushSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]PushSubscription, 0)
	for _, sub := range s.subscriptions {
		if sub.UserUUID == excludeUUID {
			continue
		}
		if _, ok := s.members[membershipKey{threadID, sub.UserUUID}]; ok {
			items = append(items, sub)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Endpoint < items[j].Endpoint })
	return items, nil
}

func (s *MemoryStore) DeleteSubscription(_ context.Context, endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscriptions, endpoint)
	return nil
}

func sortUsers(items []User) {
	sort.Slice(items, func(i, j int) bool { return items[i].UUID < items[j].UUID })
}

var _ Store = (*MemoryStore)(nil)

package client

import "context"

type threadRef struct {
	ThreadID int64 `json:"thread_id"`
}

type postIDResult struct {
	PostID int64 `json:"post_id"`
}

// GetPosts fetches one page of live posts, newest first.
func (s *Session) GetPosts(ctx context.Context, threadID int64, q PageQuery) (Page, error) {
	params := struct {
		ThreadID int64 `json:"thread_id"`
		PageQuery
	}{ThreadID: threadID, PageQuery: q}
	var page Page
	err := s.call(ctx, "get_posts", params, &page)
	return page, err
}

func (s *Session) CreatePost(ctx context.Context, threadID int64, body string) (int64, error) {
	params := struct {
		ThreadID int64  `json:"thread_id"`
		Body     string `json:"body"`
	}{threadID, body}
	var out postIDResult
	err := s.call(ctx, "create_post", params, &out)
	return out.PostID, err
}

func (s *Session) DeletePost(ctx context.Context, postID int64) error {
	return s.call(ctx, "delete_post", map[string]any{"id": postID}, nil)
}

func (s *Session) CreateThread(ctx context.Context, title string) (int64, error) {
	var out struct {
		ThreadID int64 `json:"thread_id"`
	}
	err := s.call(ctx, "create_thread", map[string]any{"title": title}, &out)
	return out.ThreadID, err
}

// Threads lists the caller's threads, most recently active first.
func (s *Session) Threads(ctx context.Context) ([]Thread, error) {
	var out struct {
		Threads []Thread `json:"threads"`
	}
	err := s.call(ctx, "get_threads", nil, &out)
	return out.Threads, err
}

// UserName returns the caller's display name, empty when unregistered.
func (s *Session) UserName(ctx context.Context) (string, error) {
	var out struct {
		Name string `json:"name"`
	}
	err := s.call(ctx, "get_user", nil, &out)
	return out.Name, err
}

func (s *Session) RegisterUser(ctx context.Context, name string) error {
	return s.call(ctx, "register_user", map[string]any{"name": name}, nil)
}

func (s *Session) UpdateUser(ctx context.Context, name string) error {
	return s.call(ctx, "update_user", map[string]any{"name": name}, nil)
}

func (s *Session) GenerateTransferCode(ctx context.Context) (TransferCode, error) {
	var out TransferCode
	err := s.call(ctx, "generate_transfer_code", nil, &out)
	return out, err
}

// CheckTransferCode redeems code and returns the identity it belongs to.
func (s *Session) CheckTransferCode(ctx context.Context, code string) (string, error) {
	var out struct {
		UserUUID string `json:"user_uuid"`
	}
	err := s.call(ctx, "check_transfer_code", map[string]any{"code": code}, &out)
	return out.UserUUID, err
}

func (s *Session) RegisterSubscription(ctx context.Context, endpoint, p256dh, auth string) error {
	params := map[string]any{
		"endpoint": endpoint,
		"keys":     map[string]string{"p256dh": p256dh, "auth": auth},
	}
	return s.call(ctx, "register_subscription", params, nil)
}

func (s *Session) ThreadSettings(ctx context.Context, threadID int64) (ThreadSettings, error) {
	var out ThreadSettings
	err := s.call(ctx, "get_thread_settings", threadRef{threadID}, &out)
	return out, err
}

func (s *Session) UpdateThreadTitle(ctx context.Context, threadID int64, title string) error {
	return s.call(ctx, "update_thread_title", map[string]any{"thread_id": threadID, "title": title}, nil)
}

func (s *Session) AddThreadMember(ctx context.Context, threadID int64, userUUID string) error {
	return s.call(ctx, "add_thread_member", map[string]any{"thread_id": threadID, "target_user_uuid": userUUID}, nil)
}

func (s *Session) RemoveThreadMember(ctx context.Context, threadID int64, userUUID string) error {
	return s.call(ctx, "remove_thread_member", map[string]any{"thread_id": threadID, "target_user_uuid": userUUID}, nil)
}

func (s *Session) GenerateInviteToken(ctx context.Context, threadID int64) (Invite, error) {
	var out Invite
	err := s.call(ctx, "generate_invite_token", threadRef{threadID}, &out)
	return out, err
}

func (s *Session) JoinWithInvite(ctx context.Context, threadID int64, token string) error {
	return s.call(ctx, "join_with_invite", map[string]any{"thread_id": threadID, "token": token}, nil)
}

// SummarizeThread asks the server to post an AI summary and returns its id.
func (s *Session) SummarizeThread(ctx context.Context, threadID int64) (int64, error) {
	var out postIDResult
	err := s.call(ctx, "summarize_thread", threadRef{threadID}, &out)
	return out.PostID, err
}

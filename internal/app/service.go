package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/yymmt/bbs-test/internal/config"
	"github.com/yymmt/bbs-test/internal/policy"
	"github.com/yymmt/bbs-test/internal/push"
	"github.com/yymmt/bbs-test/internal/store"
	"github.com/yymmt/bbs-test/internal/summarize"
	"github.com/yymmt/bbs-test/internal/util"
)

type dataStore interface {
	Ping(context.Context) error
	UpsertUser(context.Context, string, string) error
	GetUser(context.Context, string) (store.User, error)
	UserNames(context.Context, []string) ([]store.User, error)
	IsMember(context.Context, int64, string) (bool, error)
	ListPosts(context.Context, store.PostQuery) ([]store.Post, error)
	GetPost(context.Context, int64) (store.Post, error)
	CreatePost(context.Context, int64, string, string) (store.Post, error)
	SoftDeletePost(context.Context, int64) error
	RecentTranscript(context.Context, int64, int) ([]store.TranscriptLine, error)
	CreateThread(context.Context, string, string) (store.Thread, error)
	GetThread(context.Context, int64) (store.Thread, error)
	ListThreads(context.Context, string) ([]store.Thread, error)
	UpdateThreadTitle(context.Context, int64, string) error
	ListMembers(context.Context, int64) ([]store.User, error)
	ListCandidates(context.Context, int64, string) ([]store.User, error)
	AddMember(context.Context, int64, string) error
	RemoveMember(context.Context, int64, string) error
	InsertTransferCode(context.Context, store.TransferCode) error
	ConsumeTransferCode(context.Context, string, time.Time) (string, error)
	InsertInvite(context.Context, store.ThreadInvite) error
	InviteValid(context.Context, int64, string, time.Time) (bool, error)
	UpsertSubscription(context.Context, store.PushSubscription) error
}

type notifier interface {
	Notify(ctx context.Context, threadID int64, actor string, build push.Builder) error
}

type Service struct {
	cfg        config.Config
	store      dataStore
	push       notifier
	composer   push.Composer
	summarizer summarize.Summarizer
	limiters   *limiterPool
	now        func() time.Time
}

// New wires the service. fanout and summarizer may be nil: without a
// fan-out no pushes are sent, without a summarizer summarize_thread fails
// as an internal error.
func New(cfg config.Config, dataStore dataStore, fanout notifier, summarizer summarize.Summarizer) *Service {
	return &Service{
		cfg:        cfg,
		store:      dataStore,
		push:       fanout,
		composer:   push.Composer{AppURL: cfg.AppURL, Icon: cfg.IconURL},
		summarizer: summarizer,
		limiters:   newLimiterPool(cfg.SummaryRPS, cfg.SummaryBurst),
		now:        time.Now,
	}
}

// Bootstrap makes sure the reserved summary author exists.
func (s *Service) Bootstrap(ctx context.Context) error {
	if err := s.store.UpsertUser(ctx, summarize.AIUserUUID, summarize.AIUserName); err != nil {
		return fmt.Errorf("ensure ai user: %w", err)
	}
	return nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) VAPIDPublicKey() string {
	return s.cfg.VAPIDPublicKey
}

// threadScoped requests are refused up front unless the caller belongs to
// the thread. Each operation checks again right before it acts.
type threadScoped interface {
	scope() (threadID int64, deniedCode string)
}

func (r GetPostsRequest) scope() (int64, string)   { return int64(r.ThreadID), CodeAccessDenied }
func (r CreatePostRequest) scope() (int64, string) { return int64(r.ThreadID), CodeAccessDenied }
func (r GetThreadSettingsRequest) scope() (int64, string) {
	return int64(r.ThreadID), CodePermissionDenied
}
func (r UpdateThreadTitleRequest) scope() (int64, string) {
	return int64(r.ThreadID), CodePermissionDenied
}
func (r AddThreadMemberRequest) scope() (int64, string) {
	return int64(r.ThreadID), CodePermissionDenied
}
func (r RemoveThreadMemberRequest) scope() (int64, string) {
	return int64(r.ThreadID), CodePermissionDenied
}
func (r GenerateInviteTokenRequest) scope() (int64, string) {
	return int64(r.ThreadID), CodePermissionDenied
}
func (r SummarizeThreadRequest) scope() (int64, string) {
	return int64(r.ThreadID), CodePermissionDenied
}

// Dispatch validates req for identity and runs the matching operation.
func (s *Service) Dispatch(ctx context.Context, identity string, req Request) (map[string]any, error) {
	if err := req.validate(identity); err != nil {
		return nil, err
	}
	if scoped, ok := req.(threadScoped); ok {
		threadID, code := scoped.scope()
		if err := s.requireMember(ctx, threadID, identity, code); err != nil {
			return nil, err
		}
	}

	switch r := req.(type) {
	case GetPostsRequest:
		return s.GetPosts(ctx, identity, r)
	case CreatePostRequest:
		return s.CreatePost(ctx, identity, r)
	case DeletePostRequest:
		return s.DeletePost(ctx, identity, r)
	case CreateThreadRequest:
		return s.CreateThread(ctx, identity, r)
	case GetThreadsRequest:
		return s.GetThreads(ctx, identity)
	case GetUserRequest:
		return s.GetUser(ctx, identity)
	case RegisterUserRequest:
		return s.SaveUser(ctx, identity, r.Name)
	case UpdateUserRequest:
		return s.SaveUser(ctx, identity, r.Name)
	case GenerateTransferCodeRequest:
		return s.GenerateTransferCode(ctx, identity)
	case CheckTransferCodeRequest:
		return s.CheckTransferCode(ctx, r)
	case RegisterSubscriptionRequest:
		return s.RegisterSubscription(ctx, identity, r)
	case GetThreadSettingsRequest:
		return s.GetThreadSettings(ctx, identity, r)
	case UpdateThreadTitleRequest:
		return s.UpdateThreadTitle(ctx, identity, r)
	case AddThreadMemberRequest:
		return s.AddThreadMember(ctx, identity, r)
	case RemoveThreadMemberRequest:
		return s.RemoveThreadMember(ctx, identity, r)
	case GenerateInviteTokenRequest:
		return s.GenerateInviteToken(ctx, identity, r)
	case JoinWithInviteRequest:
		return s.JoinWithInvite(ctx, identity, r)
	case SummarizeThreadRequest:
		return s.SummarizeThread(ctx, identity, r)
	default:
		return nil, unknownActionError(req.Action())
	}
}

func (s *Service) requireMember(ctx context.Context, threadID int64, identity, code string) error {
	ok, err := s.store.IsMember(ctx, threadID, identity)
	if err != nil {
		return err
	}
	if !ok {
		return forbiddenError(code)
	}
	return nil
}

func (s *Service) GetPosts(ctx context.Context, identity string, req GetPostsRequest) (map[string]any, error) {
	threadID := int64(req.ThreadID)
	if err := s.requireMember(ctx, threadID, identity, CodeAccessDenied); err != nil {
		return nil, err
	}
	posts, err := s.store.ListPosts(ctx, store.PostQuery{
		ThreadID: threadID,
		Limit:    req.limit(),
		Offset:   int(nonNegative(req.Offset)),
		BeforeID: int64(nonNegative(req.BeforeID)),
		AfterID:  int64(nonNegative(req.AfterID)),
	})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(posts))
	authors := make([]string, 0, len(posts))
	items := make([]map[string]any, 0, len(posts))
	for _, post := range posts {
		items = append(items, postView(post))
		if _, ok := seen[post.UserUUID]; !ok {
			seen[post.UserUUID] = struct{}{}
			authors = append(authors, post.UserUUID)
		}
	}
	users := make([]map[string]any, 0, len(authors))
	if len(authors) > 0 {
		found, err := s.store.UserNames(ctx, authors)
		if err != nil {
			return nil, err
		}
		users = usersView(found)
	}
	return map[string]any{"posts": items, "users": users}, nil
}

func (s *Service) CreatePost(ctx context.Context, identity string, req CreatePostRequest) (map[string]any, error) {
	threadID := int64(req.ThreadID)
	if err := s.requireMember(ctx, threadID, identity, CodeAccessDenied); err != nil {
		return nil, err
	}
	post, err := s.store.CreatePost(ctx, threadID, identity, req.Body)
	if err != nil {
		return nil, err
	}
	if err := s.notify(ctx, threadID, identity, func(ctx context.Context) (push.Payload, error) {
		thread, err := s.store.GetThread(ctx, threadID)
		if err != nil {
			return push.Payload{}, err
		}
		return s.composer.Created(thread.Title, threadID, post.ID, post.Body), nil
	}); err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "post_id": post.ID}, nil
}

// DeletePost soft-deletes a post written by identity in a thread identity
// still belongs to. Missing posts and foreign posts fail the same way.
func (s *Service) DeletePost(ctx context.Context, identity string, req DeletePostRequest) (map[string]any, error) {
	post, err := s.store.GetPost(ctx, int64(req.ID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, forbiddenError(CodeInvalidIDOrPermission)
	}
	if err != nil {
		return nil, err
	}
	if post.UserUUID != identity {
		return nil, forbiddenError(CodeInvalidIDOrPermission)
	}
	if err := s.requireMember(ctx, post.ThreadID, identity, CodeInvalidIDOrPermission); err != nil {
		return nil, err
	}
	if err := s.store.SoftDeletePost(ctx, post.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, forbiddenError(CodeInvalidIDOrPermission)
		}
		return nil, err
	}
	if err := s.notify(ctx, post.ThreadID, identity, func(context.Context) (push.Payload, error) {
		return s.composer.Deleted(post.ThreadID, post.ID), nil
	}); err != nil {
		return nil, err
	}
	return map[string]any{"success": true}, nil
}

func (s *Service) CreateThread(ctx context.Context, identity string, req CreateThreadRequest) (map[string]any, error) {
	thread, err := s.store.CreateThread(ctx, req.Title, identity)
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "thread_id": thread.ID}, nil
}

func (s *Service) GetThreads(ctx context.Context, identity string) (map[string]any, error) {
	threads, err := s.store.ListThreads(ctx, identity)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(threads))
	for _, thread := range threads {
		items = append(items, map[string]any{
			"id":         thread.ID,
			"title":      thread.Title,
			"updated_at": thread.UpdatedAt,
		})
	}
	return map[string]any{"threads": items}, nil
}

func (s *Service) GetUser(ctx context.Context, identity string) (map[string]any, error) {
	user, err := s.store.GetUser(ctx, identity)
	if errors.Is(err, sql.ErrNoRows) {
		return map[string]any{"name": ""}, nil
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"name": user.Name}, nil
}

// SaveUser backs both register_user and update_user.
func (s *Service) SaveUser(ctx context.Context, identity, name string) (map[string]any, error) {
	if err := s.store.UpsertUser(ctx, identity, name); err != nil {
		return nil, err
	}
	return map[string]any{"success": true}, nil
}

func (s *Service) GenerateTransferCode(ctx context.Context, identity string) (map[string]any, error) {
	code, err := util.NewTransferCode()
	if err != nil {
		return nil, err
	}
	expireAt := s.now().Add(s.cfg.TransferCodeTTL)
	if err := s.store.InsertTransferCode(ctx, store.TransferCode{
		UserUUID: identity,
		Code:     code,
		ExpireAt: expireAt,
	}); err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "code": code, "expire_at": expireAt}, nil
}

// CheckTransferCode redeems a code once. A code is valid strictly before
// its expiry.
func (s *Service) CheckTransferCode(ctx context.Context, req CheckTransferCodeRequest) (map[string]any, error) {
	userUUID, err := s.store.ConsumeTransferCode(ctx, req.Code, s.now())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundError(CodeInvalidCode)
	}
	if err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "user_uuid": userUUID}, nil
}

func (s *Service) RegisterSubscription(ctx context.Context, identity string, req RegisterSubscriptionRequest) (map[string]any, error) {
	if err := s.store.UpsertSubscription(ctx, store.PushSubscription{
		Endpoint: req.Endpoint,
		UserUUID: identity,
		P256dh:   req.Keys.P256dh,
		Auth:     req.Keys.Auth,
	}); err != nil {
		return nil, err
	}
	return map[string]any{"success": true}, nil
}

func (s *Service) GetThreadSettings(ctx context.Context, identity string, req GetThreadSettingsRequest) (map[string]any, error) {
	threadID := int64(req.ThreadID)
	if err := s.requireMember(ctx, threadID, identity, CodePermissionDenied); err != nil {
		return nil, err
	}
	thread, err := s.store.GetThread(ctx, threadID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFoundError(CodeThreadNotFound)
	}
	if err != nil {
		return nil, err
	}
	members, err := s.store.ListMembers(ctx, threadID)
	if err != nil {
		return nil, err
	}
	candidates, err := s.store.ListCandidates(ctx, threadID, identity)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"success":    true,
		"title":      thread.Title,
		"members":    usersView(members),
		"candidates": usersView(candidates),
	}, nil
}

func (s *Service) UpdateThreadTitle(ctx context.Context, identity string, req UpdateThreadTitleRequest) (map[string]any, error) {
	threadID := int64(req.ThreadID)
	if err := s.requireMember(ctx, threadID, identity, CodePermissionDenied); err != nil {
		return nil, err
	}
	if err := s.store.UpdateThreadTitle(ctx, threadID, req.Title); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, notFoundError(CodeThreadNotFound)
		}
		return nil, err
	}
	return map[string]any{"success": true}, nil
}

func (s *Service) AddThreadMember(ctx context.Context, identity string, req AddThreadMemberRequest) (map[string]any, error) {
	threadID := int64(req.ThreadID)
	if err := s.requireMember(ctx, threadID, identity, CodePermissionDenied); err != nil {
		return nil, err
	}
	if err := s.store.AddMember(ctx, threadID, req.TargetUserUUID); err != nil {
		return nil, err
	}
	return map[string]any{"success": true}, nil
}

func (s *Service) RemoveThreadMember(ctx context.Context, identity string, req RemoveThreadMemberRequest) (map[string]any, error) {
	threadID := int64(req.ThreadID)
	if err := s.requireMember(ctx, threadID, identity, CodePermissionDenied); err != nil {
		return nil, err
	}
	if err := policy.CanRemoveMember(identity, req.TargetUserUUID); err != nil {
		return nil, forbiddenError(CodeCannotRemoveSelf)
	}
	if err := s.store.RemoveMember(ctx, threadID, req.TargetUserUUID); err != nil {
		return nil, err
	}
	return map[string]any{"success": true}, nil
}

func (s *Service) GenerateInviteToken(ctx context.Context, identity string, req GenerateInviteTokenRequest) (map[string]any, error) {
	threadID := int64(req.ThreadID)
	if err := s.requireMember(ctx, threadID, identity, CodePermissionDenied); err != nil {
		return nil, err
	}
	invite := store.ThreadInvite{
		ThreadID:  threadID,
		Token:     util.NewInviteToken(),
		ExpiresAt: s.now().Add(s.cfg.InviteTTL),
	}
	if err := s.store.InsertInvite(ctx, invite); err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "token": invite.Token, "expires_at": invite.ExpiresAt}, nil
}

// JoinWithInvite adds identity to the thread when the token is bound to it
// and unexpired. Redeeming twice is harmless.
func (s *Service) JoinWithInvite(ctx context.Context, identity string, req JoinWithInviteRequest) (map[string]any, error) {
	threadID := int64(req.ThreadID)
	valid, err := s.store.InviteValid(ctx, threadID, req.Token, s.now())
	if err != nil {
		return nil, err
	}
	if !valid {
		return nil, notFoundError(CodeInvalidToken)
	}
	if err := s.store.AddMember(ctx, threadID, identity); err != nil {
		return nil, err
	}
	return map[string]any{"success": true}, nil
}

// SummarizeThread posts an AI summary of the latest live posts and pushes
// it to every subscribed member, the requester included.
func (s *Service) SummarizeThread(ctx context.Context, identity string, req SummarizeThreadRequest) (map[string]any, error) {
	threadID := int64(req.ThreadID)
	if err := s.requireMember(ctx, threadID, identity, CodePermissionDenied); err != nil {
		return nil, err
	}
	if !s.limiters.Allow(identity) {
		return nil, rateLimitedError()
	}
	lines, err := s.store.RecentTranscript(ctx, threadID, summarize.TranscriptLimit)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, validationError(CodeInvalidInput)
	}
	if s.summarizer == nil {
		return nil, summarize.ErrNotConfigured
	}
	text, err := s.summarizer.Summarize(ctx, summarize.BuildPrompt(lines))
	if err != nil {
		return nil, err
	}
	if text == "" {
		text = summarize.Fallback
	}

	post, err := s.store.CreatePost(ctx, threadID, summarize.AIUserUUID, text)
	if err != nil {
		return nil, err
	}
	if err := s.notify(ctx, threadID, summarize.AIUserUUID, func(ctx context.Context) (push.Payload, error) {
		thread, err := s.store.GetThread(ctx, threadID)
		if err != nil {
			return push.Payload{}, err
		}
		return s.composer.Summary(thread.Title, threadID, post.ID, text), nil
	}); err != nil {
		return nil, err
	}
	return map[string]any{"success": true, "post_id": post.ID}, nil
}

func (s *Service) notify(ctx context.Context, threadID int64, actor string, build push.Builder) error {
	if s.push == nil {
		return nil
	}
	return s.push.Notify(ctx, threadID, actor, build)
}

func postView(post store.Post) map[string]any {
	return map[string]any{
		"id":         post.ID,
		"thread_id":  post.ThreadID,
		"user_uuid":  post.UserUUID,
		"body":       post.Body,
		"created_at": post.CreatedAt,
	}
}

func usersView(users []store.User) []map[string]any {
	items := make([]map[string]any, 0, len(users))
	for _, user := range users {
		items = append(items, map[string]any{"user_uuid": user.UUID, "name": user.Name})
	}
	return items
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) UpsertUser(ctx context.Context, userUUID, name string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (user_uuid, name)
		VALUES ($1, $2)
		ON CONFLICT (user_uuid) DO UPDATE SET name=EXCLUDED.name, updated_at=NOW()
	`, userUUID, name)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUser(ctx context.Context, userUUID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `SELECT user_uuid, name FROM users WHERE user_uuid=$1`, userUUID).Scan(&user.UUID, &user.Name)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) UserNames(ctx context.Context, userUUIDs []string) ([]User, error) {
	if len(userUUIDs) == 0 {
		return []User{}, nil
	}
	placeholders := make([]string, len(userUUIDs))
	args := make([]any, len(userUUIDs))
	for i, id := range userUUIDs {
		placeholders[i] = "$" + strconv.Itoa(i+1)
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_uuid, name FROM users WHERE user_uuid IN (`+strings.Join(placeholders, ",")+`) ORDER BY user_uuid`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("list user names: %w", err)
	}
	return scanUsers(rows)
}

func (s *PostgresStore) IsMember(ctx context.Context, threadID int64, userUUID string) (bool, error) {
	var member bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM thread_users WHERE thread_id=$1 AND user_uuid=$2)
	`, threadID, userUUID).Scan(&member)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return member, nil
}

func (s *PostgresStore) ListPosts(ctx context.Context, q PostQuery) ([]Post, error) {
	query := `SELECT id, thread_id, user_uuid, body, created_at FROM posts WHERE thread_id=$1 AND deleted_at IS NULL`
	args := []any{q.ThreadID}
	if q.BeforeID > 0 {
		args = append(args, q.BeforeID)
		query += ` AND id < $` + strconv.Itoa(len(args))
	}
	if q.AfterID > 0 {
		args = append(args, q.AfterID)
		query += ` AND id > $` + strconv.Itoa(len(args))
	}
	args = append(args, q.Limit)
	query += ` ORDER BY id DESC LIMIT $` + strconv.Itoa(len(args))
	if q.Offset > 0 {
		args = append(args, q.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()

	items := make([]Post, 0)
	for rows.Next() {
		var item Post
		if err := rows.Scan(&item.ID, &item.ThreadID, &item.UserUUID, &item.Body, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return items, nil
}

// GetPost returns a live post; soft-deleted posts are reported as
// sql.ErrNoRows.
func (s *PostgresStore) GetPost(ctx context.Context, postID int64) (Post, error) {
	var item Post
	err := s.db.QueryRowContext(ctx, `
		SELECT id, thread_id, user_uuid, body, created_at
		FROM posts
		WHERE id=$1 AND deleted_at IS NULL
	`, postID).Scan(&item.ID, &item.ThreadID, &item.UserUUID, &item.Body, &item.CreatedAt)
	if err != nil {
		return Post{}, err
	}
	return item, nil
}

// CreatePost inserts the post and bumps the thread's updated_at in one
// transaction.
func (s *PostgresStore) CreatePost(ctx context.Context, threadID int64, userUUID, body string) (Post, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Post{}, fmt.Errorf("begin create post: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	item := Post{ThreadID: threadID, UserUUID: userUUID, Body: body}
	err = tx.QueryRowContext(ctx, `
		INSERT INTO posts (thread_id, user_uuid, body)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, threadID, userUUID, body).Scan(&item.ID, &item.CreatedAt)
	if err != nil {
		return Post{}, fmt.Errorf("insert post: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE threads SET updated_at=NOW() WHERE id=$1`, threadID); err != nil {
		return Post{}, fmt.Errorf("touch thread: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Post{}, fmt.Errorf("commit create post: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) SoftDeletePost(ctx context.Context, postID int64) error {
	result, err := s.db.ExecContext(ctx, `UPDATE posts SET deleted_at=NOW() WHERE id=$1 AND deleted_at IS NULL`, postID)
	if err != nil {
		return fmt.Errorf("soft delete post: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("soft delete post rows: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// RecentTranscript returns up to limit live posts with author names,
// oldest first. Authors without a registered name get an empty name.
func (s *PostgresStore) RecentTranscript(ctx context.Context, threadID int64, limit int) ([]TranscriptLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT p.id, COALESCE(u.name, ''), p.body
		FROM posts p
		LEFT JOIN users u ON u.user_uuid = p.user_uuid
		WHERE p.thread_id=$1 AND p.deleted_at IS NULL
		ORDER BY p.id DESC
		LIMIT $2
	`, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transcript: %w", err)
	}
	defer rows.Close()

	lines := make([]TranscriptLine, 0)
	for rows.Next() {
		var line TranscriptLine
		if err := rows.Scan(&line.PostID, &line.Name, &line.Body); err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transcript: %w", err)
	}
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return lines, nil
}

// CreateThread inserts the thread and the creator's membership; both
// rows commit or neither does.
func (s *PostgresStore) CreateThread(ctx context.Context, title, creatorUUID string) (Thread, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Thread{}, fmt.Errorf("begin create thread: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var item Thread
	err = tx.QueryRowContext(ctx, `
		INSERT INTO threads (title)
		VALUES ($1)
		RETURNING id, title, created_at, updated_at
	`, title).Scan(&item.ID, &item.Title, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Thread{}, fmt.Errorf("insert thread: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO thread_users (thread_id, user_uuid) VALUES ($1, $2)`, item.ID, creatorUUID); err != nil {
		return Thread{}, fmt.Errorf("insert creator membership: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Thread{}, fmt.Errorf("commit create thread: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) GetThread(ctx context.Context, threadID int64) (Thread, error) {
	var item Thread
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, created_at, updated_at FROM threads WHERE id=$1
	`, threadID).Scan(&item.ID, &item.Title, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Thread{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListThreads(ctx context.Context, userUUID string) ([]Thread, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.title, t.created_at, t.updated_at
		FROM threads t
		JOIN thread_users tu ON tu.thread_id = t.id
		WHERE tu.user_uuid=$1
		ORDER BY t.updated_at DESC, t.id DESC
	`, userUUID)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	defer rows.Close()

	items := make([]Thread, 0)
	for rows.Next() {
		var item Thread
		if err := rows.Scan(&item.ID, &item.Title, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan thread: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate threads: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateThreadTitle(ctx context.Context, threadID int64, title string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE threads SET title=$2, updated_at=NOW() WHERE id=$1`, threadID, title)
	if err != nil {
		return fmt.Errorf("update thread title: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) ListMembers(ctx context.Context, threadID int64) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.user_uuid, u.name
		FROM thread_users tu
		JOIN users u ON u.user_uuid = tu.user_uuid
		WHERE tu.thread_id=$1
		ORDER BY tu.created_at, u.user_uuid
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return scanUsers(rows)
}

// ListCandidates returns users who share another thread with userUUID but
// are not members of threadID.
func (s *PostgresStore) ListCandidates(ctx context.Context, threadID int64, userUUID string) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT u.user_uuid, u.name
		FROM users u
		JOIN thread_users other ON other.user_uuid = u.user_uuid
		WHERE other.thread_id IN (SELECT thread_id FROM thread_users WHERE user_uuid=$1)
			AND u.user_uuid NOT IN (SELECT user_uuid FROM thread_users WHERE thread_id=$2)
		ORDER BY u.user_uuid
	`, userUUID, threadID)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	return scanUsers(rows)
}

func (s *PostgresStore) AddMember(ctx context.Context, threadID int64, userUUID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO thread_users (thread_id, user_uuid)
		VALUES ($1, $2)
		ON CONFLICT (thread_id, user_uuid) DO NOTHING
	`, threadID, userUUID)
	if err != nil {
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

func (s *PostgresStore) RemoveMember(ctx context.Context, threadID int64, userUUID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM thread_users WHERE thread_id=$1 AND user_uuid=$2`, threadID, userUUID)
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertTransferCode(ctx context.Context, code TransferCode) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transfer_codes (user_uuid, code, expire_at) VALUES ($1, $2, $3)
	`, code.UserUUID, code.Code, code.ExpireAt)
	if err != nil {
		return fmt.Errorf("insert transfer code: %w", err)
	}
	return nil
}

// ConsumeTransferCode marks the newest unused code valid at now as used
// and returns its user. A code whose expiry equals now is expired.
func (s *PostgresStore) ConsumeTransferCode(ctx context.Context, code string, now time.Time) (string, error) {
	var userUUID string
	err := s.db.QueryRowContext(ctx, `
		UPDATE transfer_codes SET used_at=$2
		WHERE id = (
			SELECT id FROM transfer_codes
			WHERE code=$1 AND expire_at > $2 AND used_at IS NULL
			ORDER BY id DESC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING user_uuid
	`, code, now).Scan(&userUUID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", err
		}
		return "", fmt.Errorf("consume transfer code: %w", err)
	}
	return userUUID, nil
}

func (s *PostgresStore) InsertInvite(ctx context.Context, invite ThreadInvite) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO thread_invites (thread_id, token, expires_at) VALUES ($1, $2, $3)
	`, invite.ThreadID, invite.Token, invite.ExpiresAt)
	if err != nil {
		return fmt.Errorf("insert invite: %w", err)
	}
	return nil
}

func (s *PostgresStore) InviteValid(ctx context.Context, threadID int64, token string, now time.Time) (bool, error) {
	var valid bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM thread_invites WHERE thread_id=$1 AND token=$2 AND expires_at > $3)
	`, threadID, token, now).Scan(&valid)
	if err != nil {
		return false, fmt.Errorf("check invite: %w", err)
	}
	return valid, nil
}

func (s *PostgresStore) UpsertSubscription(ctx context.Context, sub PushSubscription) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO push_subscriptions (endpoint, user_uuid, public_key, auth_token)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (endpoint) DO UPDATE
		SET user_uuid=EXCLUDED.user_uuid, public_key=EXCLUDED.public_key, auth_token=EXCLUDED.auth_token, updated_at=NOW()
	`, sub.Endpoint, sub.UserUUID, sub.P256dh, sub.Auth)
	if err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}
	return nil
}

// ThreadSubscriptions lists the subscriptions of every member of threadID
// other than excludeUUID.
func (s *PostgresStore) ThreadSubscriptions(ctx context.Context, threadID int64, excludeUUID string) ([]PushSubscription, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT ps.endpoint, ps.user_uuid, ps.public_key, ps.auth_token
		FROM thread_users tu
		JOIN push_subscriptions ps ON ps.user_uuid = tu.user_uuid
		WHERE tu.thread_id=$1 AND tu.user_uuid <> $2
		ORDER BY ps.endpoint
	`, threadID, excludeUUID)
	if err != nil {
		return nil, fmt.Errorf("list thread subscriptions: %w", err)
	}
	defer rows.Close()

	items := make([]PushSubscription, 0)
	for rows.Next() {
		var item PushSubscription
		if err := rows.Scan(&item.Endpoint, &item.UserUUID, &item.P256dh, &item.Auth); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE endpoint=$1`, endpoint); err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}

func scanUsers(rows *sql.Rows) ([]User, error) {
	defer rows.Close()
	items := make([]User, 0)
	for rows.Next() {
		var item User
		if err := rows.Scan(&item.UUID, &item.Name); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

var _ Store = (*PostgresStore)(nil)

package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/yymmt/bbs-test/internal/auth"
	"github.com/yymmt/bbs-test/internal/config"
	"github.com/yymmt/bbs-test/internal/metrics"
	"github.com/yymmt/bbs-test/internal/session"
	"github.com/yymmt/bbs-test/internal/store"
)

type testClient struct {
	t      *testing.T
	url    string
	client *http.Client
	token  string
}

type testEnv struct {
	server   *httptest.Server
	store    *store.MemoryStore
	service  *Service
	notifier *fakeNotifier

	mu  sync.Mutex
	now time.Time
}

func (e *testEnv) clock() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

func (e *testEnv) advance(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = e.now.Add(d)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	env := &testEnv{now: testNow, notifier: &fakeNotifier{}}
	env.store = store.NewMemoryStore(env.clock)

	cfg := config.Config{
		CORSOrigin:      "*",
		SessionSecret:   "test-secret",
		SessionTTL:      time.Hour,
		VAPIDPublicKey:  "BPublicKey",
		TransferCodeTTL: 10 * time.Minute,
		InviteTTL:       24 * time.Hour,
		AppURL:          "index.html",
	}
	env.service = New(cfg, env.store, env.notifier, nil)
	env.service.now = env.clock
	if err := env.service.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}

	tokens := session.NewRedisStoreWithClient(rdb, time.Hour)
	env.server = httptest.NewServer(NewHTTPServer(env.service, tokens, cfg, metrics.New()).Handler())
	t.Cleanup(env.server.Close)
	return env
}

func (e *testEnv) newClient(t *testing.T) *testClient {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar.New() error = %v", err)
	}
	return &testClient{t: t, url: e.server.URL + "/api", client: &http.Client{Jar: jar}}
}

// initialized returns a client that completed the init_csrf handshake.
func (e *testEnv) initialized(t *testing.T) *testClient {
	c := e.newClient(t)
	status, body := c.call("", map[string]any{"action": "init_csrf"})
	if status != http.StatusOK {
		t.Fatalf("init_csrf status = %d body = %v", status, body)
	}
	c.token, _ = body["token"].(string)
	return c
}

func (c *testClient) call(identity string, payload map[string]any) (int, map[string]any) {
	c.t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		c.t.Fatalf("marshal: %v", err)
	}
	return c.raw(identity, raw)
}

func (c *testClient) raw(identity string, raw []byte) (int, map[string]any) {
	c.t.Helper()
	req, err := http.NewRequest(http.MethodPost, c.url, bytes.NewReader(raw))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if identity != "" {
		req.Header.Set(headerUserID, identity)
	}
	if c.token != "" {
		req.Header.Set(headerCSRFToken, c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		c.t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, body
}

func (c *testClient) mustOK(identity string, payload map[string]any) map[string]any {
	c.t.Helper()
	status, body := c.call(identity, payload)
	if status != http.StatusOK {
		c.t.Fatalf("%v: status %d body %v", payload["action"], status, body)
	}
	return body
}

func expectError(t *testing.T, status int, body map[string]any, wantStatus int, wantCode string) {
	t.Helper()
	if status != wantStatus || body["error"] != wantCode {
		t.Fatalf("expected %d %s, got %d %v", wantStatus, wantCode, status, body)
	}
}

func postIDs(body map[string]any) []int64 {
	items, _ := body["posts"].([]any)
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		post := item.(map[string]any)
		ids = append(ids, int64(post["id"].(float64)))
	}
	return ids
}

func TestInitCSRFIsStablePerSession(t *testing.T) {
	env := newTestEnv(t)
	c := env.initialized(t)
	if len(c.token) != 64 {
		t.Fatalf("unexpected token %q", c.token)
	}

	_, again := c.call("", map[string]any{"action": "init_csrf"})
	if again["token"] != c.token {
		t.Fatalf("token changed within a session: %v != %s", again["token"], c.token)
	}
	if again["vapidPublicKey"] != "BPublicKey" {
		t.Fatalf("unexpected vapid key %v", again["vapidPublicKey"])
	}

	other := env.initialized(t)
	if other.token == c.token {
		t.Fatal("sessions must not share tokens")
	}
}

func TestActionRequiresCSRFToken(t *testing.T) {
	env := newTestEnv(t)

	t.Run("no session", func(t *testing.T) {
		c := env.newClient(t)
		status, body := c.call("alice", map[string]any{"action": "get_threads"})
		expectError(t, status, body, http.StatusForbidden, CodeInvalidCSRFToken)
	})

	t.Run("wrong token", func(t *testing.T) {
		c := env.initialized(t)
		c.token = strings.Repeat("0", 64)
		status, body := c.call("alice", map[string]any{"action": "get_threads"})
		expectError(t, status, body, http.StatusForbidden, CodeInvalidCSRFToken)
	})

	t.Run("token from another session", func(t *testing.T) {
		a := env.initialized(t)
		b := env.initialized(t)
		b.token = a.token
		status, body := b.call("alice", map[string]any{"action": "get_threads"})
		expectError(t, status, body, http.StatusForbidden, CodeInvalidCSRFToken)
	})

	t.Run("forged cookie", func(t *testing.T) {
		c := env.newClient(t)
		req, _ := http.NewRequest(http.MethodPost, c.url, strings.NewReader(`{"action":"get_threads"}`))
		req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: "sid.bogus"})
		req.Header.Set(headerUserID, "alice")
		req.Header.Set(headerCSRFToken, "anything")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("do request: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", resp.StatusCode)
		}
	})
}

func TestUnknownActionAndBadBody(t *testing.T) {
	env := newTestEnv(t)
	c := env.initialized(t)

	status, body := c.call("alice", map[string]any{"action": "drop_tables"})
	expectError(t, status, body, http.StatusBadRequest, CodeInvalidAction)

	status, body = c.raw("alice", []byte("{not json"))
	expectError(t, status, body, http.StatusBadRequest, CodeInvalidBody)
}

func TestPostLifecycleAcrossMembers(t *testing.T) {
	env := newTestEnv(t)
	c := env.initialized(t)

	c.mustOK("alice", map[string]any{"action": "register_user", "name": "Alice"})
	c.mustOK("bob", map[string]any{"action": "register_user", "name": "Bob"})
	created := c.mustOK("alice", map[string]any{"action": "create_thread", "title": "Lunch"})
	threadID := created["thread_id"]

	status, body := c.call("bob", map[string]any{"action": "get_posts", "thread_id": threadID})
	expectError(t, status, body, http.StatusForbidden, CodeAccessDenied)

	c.mustOK("alice", map[string]any{"action": "add_thread_member", "thread_id": threadID, "target_user_uuid": "bob"})
	post := c.mustOK("bob", map[string]any{"action": "create_post", "thread_id": threadID, "body": "Ramen?"})
	if post["success"] != true {
		t.Fatalf("unexpected create_post result %v", post)
	}

	listed := c.mustOK("alice", map[string]any{"action": "get_posts", "thread_id": threadID})
	posts := listed["posts"].([]any)
	if len(posts) != 1 || posts[0].(map[string]any)["body"] != "Ramen?" {
		t.Fatalf("unexpected posts %v", posts)
	}
	users := listed["users"].([]any)
	if len(users) != 1 || users[0].(map[string]any)["name"] != "Bob" {
		t.Fatalf("unexpected users %v", users)
	}

	calls := env.notifier.recorded()
	if len(calls) != 1 || calls[0].actor != "bob" {
		t.Fatalf("expected one fan-out excluding bob, got %+v", calls)
	}
	if title := calls[0].payload.Title; title != "New post in Lunch" {
		t.Fatalf("unexpected title %q", title)
	}

	status, body = c.call("alice", map[string]any{"action": "delete_post", "id": post["post_id"]})
	expectError(t, status, body, http.StatusForbidden, CodeInvalidIDOrPermission)
}

func TestDeletedPostDisappearsFromPages(t *testing.T) {
	env := newTestEnv(t)
	c := env.initialized(t)
	created := c.mustOK("alice", map[string]any{"action": "create_thread", "title": "Log"})
	threadID := created["thread_id"]

	for i := 1; i <= 6; i++ {
		c.mustOK("alice", map[string]any{"action": "create_post", "thread_id": threadID, "body": "post"})
	}
	c.mustOK("alice", map[string]any{"action": "delete_post", "id": "5"})

	ids := postIDs(c.mustOK("alice", map[string]any{"action": "get_posts", "thread_id": threadID}))
	for _, id := range ids {
		if id == 5 {
			t.Fatalf("deleted post listed: %v", ids)
		}
	}
	if len(ids) != 5 {
		t.Fatalf("expected 5 live posts, got %v", ids)
	}

	calls := env.notifier.recorded()
	last := calls[len(calls)-1]
	if last.payload.Type != "delete" || last.payload.PostID != 5 {
		t.Fatalf("expected delete fan-out for post 5, got %+v", last)
	}

	status, body := c.call("alice", map[string]any{"action": "delete_post", "id": 5})
	expectError(t, status, body, http.StatusForbidden, CodeInvalidIDOrPermission)
}

func TestCursorPaging(t *testing.T) {
	env := newTestEnv(t)
	c := env.initialized(t)
	created := c.mustOK("alice", map[string]any{"action": "create_thread", "title": "Paging"})
	threadID := created["thread_id"]
	for i := 0; i < 15; i++ {
		c.mustOK("alice", map[string]any{"action": "create_post", "thread_id": threadID, "body": "p"})
	}

	first := postIDs(c.mustOK("alice", map[string]any{"action": "get_posts", "thread_id": threadID, "limit": 10}))
	if len(first) != 10 || first[0] != 15 || first[9] != 6 {
		t.Fatalf("unexpected first page %v", first)
	}

	older := postIDs(c.mustOK("alice", map[string]any{"action": "get_posts", "thread_id": threadID, "limit": 10, "before_id": first[9]}))
	if len(older) != 5 || older[0] != 5 || older[4] != 1 {
		t.Fatalf("unexpected older page %v", older)
	}

	newer := postIDs(c.mustOK("alice", map[string]any{"action": "get_posts", "thread_id": threadID, "after_id": 13}))
	if len(newer) != 2 || newer[0] != 15 || newer[1] != 14 {
		t.Fatalf("unexpected delta %v", newer)
	}
}

func TestJoinWithInviteIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	c := env.initialized(t)
	created := c.mustOK("alice", map[string]any{"action": "create_thread", "title": "Club"})
	threadID := created["thread_id"]

	invite := c.mustOK("alice", map[string]any{"action": "generate_invite_token", "thread_id": threadID})
	token := invite["token"]

	c.mustOK("bob", map[string]any{"action": "join_with_invite", "thread_id": threadID, "token": token})
	c.mustOK("bob", map[string]any{"action": "join_with_invite", "thread_id": threadID, "token": token})
	if got := env.store.MemberCount(int64(threadID.(float64))); got != 2 {
		t.Fatalf("expected 2 members, got %d", got)
	}

	env.advance(25 * time.Hour)
	status, body := c.call("carol", map[string]any{"action": "join_with_invite", "thread_id": threadID, "token": token})
	expectError(t, status, body, http.StatusNotFound, CodeInvalidToken)
}

func TestTransferCodeExpiresAtBoundary(t *testing.T) {
	env := newTestEnv(t)
	c := env.initialized(t)

	generated := c.mustOK("alice", map[string]any{"action": "generate_transfer_code"})
	code := generated["code"]

	env.advance(10 * time.Minute)
	status, body := c.call("", map[string]any{"action": "check_transfer_code", "code": code})
	expectError(t, status, body, http.StatusNotFound, CodeInvalidCode)

	generated = c.mustOK("alice", map[string]any{"action": "generate_transfer_code"})
	code = generated["code"]
	env.advance(10*time.Minute - time.Second)
	checked := c.mustOK("", map[string]any{"action": "check_transfer_code", "code": code})
	if checked["user_uuid"] != "alice" {
		t.Fatalf("unexpected result %v", checked)
	}

	status, body = c.call("", map[string]any{"action": "check_transfer_code", "code": code})
	expectError(t, status, body, http.StatusNotFound, CodeInvalidCode)
}

func TestThreadSettingsAndSelfRemoval(t *testing.T) {
	env := newTestEnv(t)
	c := env.initialized(t)
	c.mustOK("alice", map[string]any{"action": "register_user", "name": "Alice"})
	c.mustOK("bob", map[string]any{"action": "register_user", "name": "Bob"})
	created := c.mustOK("alice", map[string]any{"action": "create_thread", "title": "Old"})
	threadID := created["thread_id"]

	c.mustOK("alice", map[string]any{"action": "update_thread_title", "thread_id": threadID, "title": "New"})
	settings := c.mustOK("alice", map[string]any{"action": "get_thread_settings", "thread_id": threadID})
	if settings["title"] != "New" {
		t.Fatalf("unexpected title %v", settings["title"])
	}

	status, body := c.call("alice", map[string]any{"action": "remove_thread_member", "thread_id": threadID, "target_user_uuid": "alice"})
	expectError(t, status, body, http.StatusForbidden, CodeCannotRemoveSelf)

	status, body = c.call("bob", map[string]any{"action": "get_thread_settings", "thread_id": threadID})
	expectError(t, status, body, http.StatusForbidden, CodePermissionDenied)
}

func TestSummarizeWithoutProviderIsInternal(t *testing.T) {
	env := newTestEnv(t)
	c := env.initialized(t)
	created := c.mustOK("alice", map[string]any{"action": "create_thread", "title": "AI"})
	c.mustOK("alice", map[string]any{"action": "create_post", "thread_id": created["thread_id"], "body": "hello"})

	status, body := c.call("alice", map[string]any{"action": "summarize_thread", "thread_id": created["thread_id"]})
	expectError(t, status, body, http.StatusInternalServerError, CodeInternal)
}

func TestUnexpectedStoreFailureIsOpaque(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	fs := &fakeStore{listPostsFn: func(context.Context, store.PostQuery) ([]store.Post, error) {
		panic("boom")
	}}
	cfg := config.Config{CORSOrigin: "*", SessionSecret: "test-secret", SessionTTL: time.Hour}
	srv := httptest.NewServer(NewHTTPServer(newTestService(fs, nil, nil), session.NewRedisStoreWithClient(rdb, time.Hour), cfg, nil).Handler())
	defer srv.Close()

	env := &testEnv{server: srv}
	c := env.initialized(t)
	status, body := c.call("alice", map[string]any{"action": "get_posts", "thread_id": 1})
	expectError(t, status, body, http.StatusInternalServerError, CodeInternal)
	if len(body) != 1 {
		t.Fatalf("response must carry only the code, got %v", body)
	}
}

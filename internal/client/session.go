package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"sync"
	"time"
)

const (
	headerUserID    = "X-USER-ID"
	headerCSRFToken = "X-CSRF-TOKEN"
)

// ErrNotInitialized is returned by actions issued before Init.
var ErrNotInitialized = errors.New("client session not initialized")

// Session holds everything one client process needs to talk to the
// server: the endpoint, the identity it acts as, the anti-forgery token
// and the cookie jar that carries the server session.
type Session struct {
	endpoint string
	http     *http.Client

	mu       sync.RWMutex
	identity string
	token    string
	vapidKey string
}

// NewSession builds a session for endpoint. A nil httpClient gets a
// default client with its own cookie jar.
func NewSession(endpoint, identity string, httpClient *http.Client) (*Session, error) {
	if httpClient == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		httpClient = &http.Client{Jar: jar, Timeout: 30 * time.Second}
	}
	if httpClient.Jar == nil {
		return nil, errors.New("http client needs a cookie jar")
	}
	return &Session{endpoint: endpoint, identity: identity, http: httpClient}, nil
}

// Init runs init_csrf and keeps the returned token and push key.
func (s *Session) Init(ctx context.Context) error {
	var out struct {
		Token          string  `json:"token"`
		VAPIDPublicKey *string `json:"vapidPublicKey"`
	}
	if err := s.post(ctx, "", map[string]any{"action": "init_csrf"}, &out); err != nil {
		return fmt.Errorf("init csrf: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = out.Token
	s.vapidKey = ""
	if out.VAPIDPublicKey != nil {
		s.vapidKey = *out.VAPIDPublicKey
	}
	return nil
}

func (s *Session) Identity() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// SetIdentity switches the identity used by later calls.
func (s *Session) SetIdentity(identity string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = identity
}

// VAPIDPublicKey is empty when the server has push disabled.
func (s *Session) VAPIDPublicKey() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.vapidKey
}

// call sends action with the fields of params and decodes the result into
// out. params may be nil or any JSON object value.
func (s *Session) call(ctx context.Context, action string, params any, out any) error {
	s.mu.RLock()
	token, identity := s.token, s.identity
	s.mu.RUnlock()
	if token == "" {
		return ErrNotInitialized
	}

	body := map[string]any{}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encode %s: %w", action, err)
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return fmt.Errorf("encode %s: %w", action, err)
		}
	}
	body["action"] = action

	return s.postWithHeaders(ctx, identity, token, body, out)
}

func (s *Session) post(ctx context.Context, identity string, body any, out any) error {
	return s.postWithHeaders(ctx, identity, "", body, out)
}

func (s *Session) postWithHeaders(ctx context.Context, identity, token string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if identity != "" {
		req.Header.Set(headerUserID, identity)
	}
	if token != "" {
		req.Header.Set(headerCSRFToken, token)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var failure struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &failure)
		if failure.Error == "" {
			failure.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{Status: resp.StatusCode, Code: failure.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/yymmt/bbs-test/internal/auth"
	"github.com/yymmt/bbs-test/internal/config"
	"github.com/yymmt/bbs-test/internal/metrics"
	"github.com/yymmt/bbs-test/internal/session"
)

const (
	headerUserID    = "X-USER-ID"
	headerCSRFToken = "X-CSRF-TOKEN"

	maxBodyBytes = 1 << 20
	maxLogInput  = 2048
)

type tokenStore interface {
	GetOrCreate(ctx context.Context, sid string) (string, error)
	Lookup(ctx context.Context, sid string) (string, error)
	Ping(ctx context.Context) error
}

type HTTPServer struct {
	service    *Service
	tokens     tokenStore
	metrics    *metrics.Metrics
	secret     []byte
	sessionTTL time.Duration
	corsOrigin string
}

func NewHTTPServer(service *Service, tokens tokenStore, cfg config.Config, m *metrics.Metrics) *HTTPServer {
	return &HTTPServer{
		service:    service,
		tokens:     tokens,
		metrics:    m,
		secret:     []byte(cfg.SessionSecret),
		sessionTTL: cfg.SessionTTL,
		corsOrigin: cfg.CORSOrigin,
	}
}

func (s *HTTPServer) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/api/ready", s.handleReady).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/api", s.handleAction).Methods(http.MethodPost)
	r.HandleFunc("/api/", s.handleAction).Methods(http.MethodPost)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
	r.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, CodeNotFound)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, CodeInvalidAction)
	})
	return s.withMiddleware(r)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
		"sessions": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{"status": "error", "error": err.Error()}
	}
	if err := s.tokens.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["sessions"] = map[string]any{"status": "error", "error": err.Error()}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

// handleAction is the single action endpoint. Checks run in order:
// init_csrf bypass, anti-forgery token, decoding, field presence, then the
// operation itself.
func (s *HTTPServer) handleAction(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	action := "unknown"
	outcome := "ok"
	var body []byte

	defer func() {
		if rec := recover(); rec != nil {
			outcome = CodeInternal
			slog.Error("action panicked",
				"request_id", requestIDFrom(r.Context()),
				"action", action,
				"input", logInput(body),
				"panic", fmt.Sprint(rec),
				"stack", string(debug.Stack()),
			)
			writeError(w, http.StatusInternalServerError, CodeInternal)
		}
		s.metrics.ObserveAction(action, outcome, time.Since(started))
	}()

	fail := func(err error) {
		status, code := mapError(err)
		outcome = code
		if status >= http.StatusInternalServerError {
			slog.Error("action failed",
				"request_id", requestIDFrom(r.Context()),
				"action", action,
				"input", logInput(body),
				"error", err,
				"stack", string(debug.Stack()),
			)
		}
		writeError(w, status, code)
	}

	var err error
	body, err = io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		fail(validationError(CodeInvalidBody))
		return
	}
	name, err := peekAction(body)
	if err != nil {
		fail(err)
		return
	}
	if name != "" {
		action = name
	}

	if name == "init_csrf" {
		result, err := s.initCSRF(w, r)
		if err != nil {
			fail(err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	if err := s.checkCSRF(r); err != nil {
		fail(err)
		return
	}

	req, err := DecodeRequest(body)
	if err != nil {
		fail(err)
		return
	}
	identity := strings.TrimSpace(r.Header.Get(headerUserID))
	result, err := s.service.Dispatch(r.Context(), identity, req)
	if err != nil {
		fail(err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// initCSRF returns the session's anti-forgery token, starting a session
// when the request carries no valid cookie.
func (s *HTTPServer) initCSRF(w http.ResponseWriter, r *http.Request) (map[string]any, error) {
	sid, ok := s.sessionID(r)
	if !ok {
		sid = auth.NewSessionID()
		http.SetCookie(w, &http.Cookie{
			Name:     auth.CookieName,
			Value:    auth.SignSession(s.secret, sid),
			Path:     "/",
			MaxAge:   int(s.sessionTTL / time.Second),
			HttpOnly: true,
			Secure:   isHTTPS(r),
			SameSite: http.SameSiteLaxMode,
		})
	}
	token, err := s.tokens.GetOrCreate(r.Context(), sid)
	if err != nil {
		return nil, err
	}
	var vapid any
	if key := s.service.VAPIDPublicKey(); key != "" {
		vapid = key
	}
	return map[string]any{"token": token, "vapidPublicKey": vapid}, nil
}

func (s *HTTPServer) checkCSRF(r *http.Request) error {
	sid, ok := s.sessionID(r)
	if !ok {
		return forbiddenError(CodeInvalidCSRFToken)
	}
	expected, err := s.tokens.Lookup(r.Context(), sid)
	if errors.Is(err, session.ErrNoToken) {
		return forbiddenError(CodeInvalidCSRFToken)
	}
	if err != nil {
		return err
	}
	if !auth.TokensEqual(expected, r.Header.Get(headerCSRFToken)) {
		return forbiddenError(CodeInvalidCSRFToken)
	}
	return nil
}

func (s *HTTPServer) sessionID(r *http.Request) (string, bool) {
	cookie, err := r.Cookie(auth.CookieName)
	if err != nil {
		return "", false
	}
	sid, err := auth.ParseSession(s.secret, cookie.Value)
	if err != nil {
		return "", false
	}
	return sid, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		slog.Info("request",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	return uuid.NewString()
}

// setCORSHeaders allows credentials only for a named origin; browsers
// refuse credentialed responses carrying the "*" wildcard.
func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, X-Request-ID, X-USER-ID, X-CSRF-TOKEN")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	if corsOrigin != "*" {
		header.Set("Access-Control-Allow-Credentials", "true")
		header.Add("Vary", "Origin")
	}
	header.Set("Cache-Control", "no-store")
}

func isHTTPS(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]any{"error": code})
}

// mapError turns err into a status and a public code. Anything that is
// not a domain error is reported as an opaque internal error.
func mapError(err error) (status int, code string) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, CodeNotFound
	}
	internal := internalError()
	return internal.Status, internal.Code
}

func logInput(body []byte) string {
	if len(body) > maxLogInput {
		return string(body[:maxLogInput]) + "..."
	}
	return string(body)
}

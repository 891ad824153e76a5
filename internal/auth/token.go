package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/yymmt/bbs-test/internal/util"
)

// CookieName is the session cookie carrying a signed session id.
const CookieName = "bbs_session"

var ErrInvalidSession = errors.New("invalid session")

// NewSessionID returns a fresh random session id.
func NewSessionID() string {
	return util.NewID("", 16)
}

// SignSession returns the cookie value "<sid>.<signature>".
func SignSession(secret []byte, sid string) string {
	return sid + "." + sign(secret, sid)
}

// ParseSession verifies a cookie value and returns the session id.
func ParseSession(secret []byte, value string) (string, error) {
	sid, signature, ok := strings.Cut(value, ".")
	if !ok || sid == "" || signature == "" {
		return "", ErrInvalidSession
	}
	expected := sign(secret, sid)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return "", ErrInvalidSession
	}
	return sid, nil
}

// TokensEqual compares two anti-forgery tokens in constant time. An empty
// expected token never matches.
func TokensEqual(expected, presented string) bool {
	if expected == "" {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(presented))
}

func sign(secret []byte, payload string) string {
	sum := hmac.New(sha256.New, secret)
	_, _ = sum.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(sum.Sum(nil))
}

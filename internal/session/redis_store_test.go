package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://"+s.Addr(), time.Hour)
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	store, _ := setupTestRedis(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisStoreRejectsBadURL(t *testing.T) {
	if _, err := NewRedisStore("not a url", time.Hour); err == nil {
		t.Fatal("expected error for malformed url")
	}
}

func TestGetOrCreateReturnsSameToken(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	first, err := store.GetOrCreate(ctx, "sid-1")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if len(first) != 64 {
		t.Fatalf("expected 64 hex chars, got %q", first)
	}
	second, err := store.GetOrCreate(ctx, "sid-1")
	if err != nil {
		t.Fatalf("second GetOrCreate failed: %v", err)
	}
	if first != second {
		t.Fatalf("token changed between calls: %q vs %q", first, second)
	}
	if got, _ := s.Get("csrf:sid-1"); got != first {
		t.Fatalf("redis holds %q, want %q", got, first)
	}
	if ttl := s.TTL("csrf:sid-1"); ttl != time.Hour {
		t.Fatalf("expected ttl of one hour, got %v", ttl)
	}
}

func TestGetOrCreateRefreshesTTL(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	token, err := store.GetOrCreate(ctx, "sid-ttl")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	s.FastForward(50 * time.Minute)
	again, err := store.GetOrCreate(ctx, "sid-ttl")
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if again != token {
		t.Fatal("token should survive a refresh")
	}
	s.FastForward(50 * time.Minute)
	if _, err := store.Lookup(ctx, "sid-ttl"); err != nil {
		t.Fatalf("token should still be live after refresh: %v", err)
	}
}

func TestLookupExpiredToken(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	if _, err := store.GetOrCreate(ctx, "sid-expire"); err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	s.FastForward(2 * time.Hour)

	if _, err := store.Lookup(ctx, "sid-expire"); !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	a, _ := store.GetOrCreate(ctx, "sid-a")
	b, _ := store.GetOrCreate(ctx, "sid-b")
	if a == b {
		t.Fatal("distinct sessions must get distinct tokens")
	}
	if got, err := store.Lookup(ctx, "sid-a"); err != nil || got != a {
		t.Fatalf("Lookup sid-a = %q, %v", got, err)
	}
	if _, err := store.Lookup(ctx, "sid-c"); !errors.Is(err, ErrNoToken) {
		t.Fatalf("expected ErrNoToken for unknown session, got %v", err)
	}
	if got, err := store.Lookup(ctx, "sid-b"); err != nil || got != b {
		t.Fatalf("Lookup sid-b = %q, %v", got, err)
	}
}

func TestLookupWhenRedisDown(t *testing.T) {
	store, s := setupTestRedis(t)
	s.Close()
	_, err := store.Lookup(context.Background(), "sid")
	if err == nil || errors.Is(err, ErrNoToken) {
		t.Fatalf("expected transport error, got %v", err)
	}
}

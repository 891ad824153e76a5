// Package session stores per-session anti-forgery tokens in Redis.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/yymmt/bbs-test/internal/util"
)

// ErrNoToken is returned by Lookup when the session has no live token.
var ErrNoToken = errors.New("session: no token")

// RedisStore keeps one token per session id under csrf:<sid>.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, ttl), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisStore{
		client: client,
		prefix: "csrf:",
		ttl:    ttl,
	}
}

func (s *RedisStore) key(sid string) string {
	return s.prefix + sid
}

// GetOrCreate returns the token bound to sid, minting one when absent.
// The expiry is refreshed either way.
func (s *RedisStore) GetOrCreate(ctx context.Context, sid string) (string, error) {
	key := s.key(sid)
	token, err := s.client.Get(ctx, key).Result()
	if err == nil {
		if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
			return "", fmt.Errorf("refresh csrf token: %w", err)
		}
		return token, nil
	}
	if !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("lookup csrf token: %w", err)
	}

	minted := util.NewCSRFToken()
	created, err := s.client.SetNX(ctx, key, minted, s.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("save csrf token: %w", err)
	}
	if created {
		return minted, nil
	}
	// Lost a race with a concurrent init for the same session.
	token, err = s.client.Get(ctx, key).Result()
	if err != nil {
		return "", fmt.Errorf("lookup csrf token: %w", err)
	}
	return token, nil
}

// Lookup returns the token bound to sid or ErrNoToken.
func (s *RedisStore) Lookup(ctx context.Context, sid string) (string, error) {
	token, err := s.client.Get(ctx, s.key(sid)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("lookup csrf token: %w", err)
	}
	return token, nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

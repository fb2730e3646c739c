package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// SessionPrefix is the Redis key prefix for stored client sessions.
	SessionPrefix = "session:"

	// DefaultSessionTTL is used by Save when no ttl is given.
	DefaultSessionTTL = 24 * time.Hour
)

// StoredSession is the credential hash kept in Redis.
type StoredSession struct {
	Token     string `redis:"token"`
	UserID    string `redis:"user_id"`
	UpdatedAt int64  `redis:"updated_at"` // unix timestamp
}

// RedisStore reads credentials from the hash session:<key>. It never caches:
// each call goes to Redis so a token refreshed by another process is used on
// the next request.
type RedisStore struct {
	client *redis.Client
	key    string
}

// Dial connects to Redis and verifies the connection.
func Dial(addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("auth: redis connection failed: %w", err)
	}
	return client, nil
}

// NewRedisStore creates a store for the session stored under key.
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	return &RedisStore{client: client, key: SessionPrefix + key}
}

// Load returns the stored session, or ErrNoCredentials when there is none.
func (s *RedisStore) Load(ctx context.Context) (*StoredSession, error) {
	var stored StoredSession
	if err := s.client.HGetAll(ctx, s.key).Scan(&stored); err != nil {
		return nil, fmt.Errorf("auth: load session: %w", err)
	}
	if stored.Token == "" {
		return nil, ErrNoCredentials
	}
	return &stored, nil
}

// Token returns the current bearer token.
func (s *RedisStore) Token(ctx context.Context) (string, error) {
	tok, err := s.client.HGet(ctx, s.key, "token").Result()
	if err == redis.Nil || (err == nil && tok == "") {
		return "", ErrNoCredentials
	}
	if err != nil {
		return "", fmt.Errorf("auth: read token: %w", err)
	}
	return tok, nil
}

// CurrentUserID returns the stored user id, falling back to the token's
// user id claim.
func (s *RedisStore) CurrentUserID(ctx context.Context) (string, error) {
	stored, err := s.Load(ctx)
	if err != nil {
		return "", err
	}
	if stored.UserID != "" {
		return stored.UserID, nil
	}
	return UserIDFromToken(stored.Token)
}

// Save stores a credential pair and sets the key's TTL.
func (s *RedisStore) Save(ctx context.Context, token, userID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, s.key, map[string]interface{}{
		"token":      token,
		"user_id":    userID,
		"updated_at": time.Now().Unix(),
	})
	pipe.Expire(ctx, s.key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("auth: save session: %w", err)
	}
	return nil
}

// Delete removes the stored session.
func (s *RedisStore) Delete(ctx context.Context) error {
	return s.client.Del(ctx, s.key).Err()
}

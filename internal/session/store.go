package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/feichai0017/remi2ai/internal/models"
)

var (
	ErrTokenNotFound = errors.New("session token not found")
	ErrTokenCorrupt  = errors.New("session token record is unreadable")
)

// TokenStore persists one {token, expires_at} record per browser session.
type TokenStore interface {
	Load(ctx context.Context, sessionID string) (models.SessionToken, error)
	Save(ctx context.Context, sessionID string, token models.SessionToken) error
	Delete(ctx context.Context, sessionID string) error
}

type RedisTokenStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

func NewRedisTokenStore(client *redis.Client, prefix string) *RedisTokenStore {
	return &RedisTokenStore{client: client, prefix: prefix, now: time.Now}
}

func (s *RedisTokenStore) key(sessionID string) string {
	return fmt.Sprintf("%s:token:%s", s.prefix, sessionID)
}

func (s *RedisTokenStore) Load(ctx context.Context, sessionID string) (models.SessionToken, error) {
	var tok models.SessionToken

	data, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return tok, ErrTokenNotFound
	}
	if err != nil {
		return tok, fmt.Errorf("failed to load session token: %w", err)
	}

	if err := json.Unmarshal(data, &tok); err != nil || tok.Token == "" {
		return models.SessionToken{}, ErrTokenCorrupt
	}
	return tok, nil
}

// Save writes the record with a TTL equal to the token's remaining lifetime.
func (s *RedisTokenStore) Save(ctx context.Context, sessionID string, token models.SessionToken) error {
	ttl := token.Expiry().Sub(s.now())
	if ttl <= 0 {
		return fmt.Errorf("session token already expired")
	}

	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal session token: %w", err)
	}
	if err := s.client.Set(ctx, s.key(sessionID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to save session token: %w", err)
	}
	return nil
}

func (s *RedisTokenStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, s.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete session token: %w", err)
	}
	return nil
}

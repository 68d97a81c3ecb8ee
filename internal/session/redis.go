package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cellvista/gateway/internal/observability"
)

const (
	sessionKeyPrefix = "session:"
	refreshKeyPrefix = "session:refresh:"
	userKeyPrefix    = "session:user:"
)

// RedisStore persists sessions in Redis, keyed by session ID with
// secondary indexes for refresh tokens and users. Expiry is enforced
// through key TTLs.
type RedisStore struct {
	client redis.UniversalClient
	logger observability.Logger
}

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(client redis.UniversalClient, logger observability.Logger) *RedisStore {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &RedisStore{client: client, logger: logger}
}

// Create implements Store.
func (s *RedisStore) Create(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session %s already expired", sess.ID)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKeyPrefix+sess.ID, data, ttl)
	pipe.Set(ctx, refreshKeyPrefix+sess.RefreshTokenID, sess.ID, ttl)
	pipe.SAdd(ctx, userKeyPrefix+sess.UserID, sess.ID)
	pipe.Expire(ctx, userKeyPrefix+sess.UserID, ttl)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

// Get implements Store.
func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	data, err := s.client.Get(ctx, sessionKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

// GetByRefreshToken implements Store.
func (s *RedisStore) GetByRefreshToken(ctx context.Context, refreshTokenID string) (*Session, error) {
	id, err := s.client.Get(ctx, refreshKeyPrefix+refreshTokenID).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("resolve refresh token: %w", err)
	}
	return s.Get(ctx, id)
}

// Update implements Store.
func (s *RedisStore) Update(ctx context.Context, sess *Session) error {
	old, err := s.Get(ctx, sess.ID)
	if err != nil {
		return err
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session %s already expired", sess.ID)
	}

	pipe := s.client.TxPipeline()
	if old.RefreshTokenID != sess.RefreshTokenID {
		pipe.Del(ctx, refreshKeyPrefix+old.RefreshTokenID)
		pipe.Set(ctx, refreshKeyPrefix+sess.RefreshTokenID, sess.ID, ttl)
	}
	pipe.Set(ctx, sessionKeyPrefix+sess.ID, data, ttl)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	sess, err := s.Get(ctx, id)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, sessionKeyPrefix+id)
	pipe.Del(ctx, refreshKeyPrefix+sess.RefreshTokenID)
	pipe.SRem(ctx, userKeyPrefix+sess.UserID, id)
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// ListByUser implements Store.
func (s *RedisStore) ListByUser(ctx context.Context, userID string) ([]*Session, error) {
	ids, err := s.client.SMembers(ctx, userKeyPrefix+userID).Result()
	if err != nil {
		return nil, fmt.Errorf("list user sessions: %w", err)
	}

	var out []*Session
	for _, id := range ids {
		sess, err := s.Get(ctx, id)
		if errors.Is(err, ErrSessionNotFound) {
			// Expired entry still indexed; drop it lazily.
			s.client.SRem(ctx, userKeyPrefix+userID, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

// DeleteByUser implements Store.
func (s *RedisStore) DeleteByUser(ctx context.Context, userID string) (int, error) {
	sessions, err := s.ListByUser(ctx, userID)
	if err != nil {
		return 0, err
	}

	for _, sess := range sessions {
		if err := s.Delete(ctx, sess.ID); err != nil {
			return 0, err
		}
	}
	s.client.Del(ctx, userKeyPrefix+userID)
	return len(sessions), nil
}

// Close implements Store. The client is shared and closed by its owner.
func (s *RedisStore) Close() error {
	return nil
}

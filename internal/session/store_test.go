package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSession(id, userID, refreshID string) *Session {
	now := time.Now()
	return &Session{
		ID:             id,
		UserID:         userID,
		Device:         "workstation",
		RefreshTokenID: refreshID,
		CreatedAt:      now,
		ExpiresAt:      now.Add(time.Hour),
		RefreshedAt:    now,
	}
}

// storeFactory builds a fresh store per subtest so both implementations
// run the same behavioral suite.
type storeFactory func(t *testing.T) Store

func memoryFactory(t *testing.T) Store {
	s := NewMemoryStore(nil)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func redisFactory(t *testing.T) Store {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, nil)
}

func TestStore(t *testing.T) {
	factories := map[string]storeFactory{
		"memory": memoryFactory,
		"redis":  redisFactory,
	}

	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			t.Run("create and get", func(t *testing.T) {
				s := factory(t)
				sess := newSession("s1", "u1", "r1")
				require.NoError(t, s.Create(context.Background(), sess))

				got, err := s.Get(context.Background(), "s1")
				require.NoError(t, err)
				assert.Equal(t, "u1", got.UserID)
				assert.Equal(t, "r1", got.RefreshTokenID)
				assert.Equal(t, "workstation", got.Device)
			})

			t.Run("get missing session", func(t *testing.T) {
				s := factory(t)
				_, err := s.Get(context.Background(), "absent")
				assert.ErrorIs(t, err, ErrSessionNotFound)
			})

			t.Run("lookup by refresh token", func(t *testing.T) {
				s := factory(t)
				require.NoError(t, s.Create(context.Background(), newSession("s1", "u1", "r1")))

				got, err := s.GetByRefreshToken(context.Background(), "r1")
				require.NoError(t, err)
				assert.Equal(t, "s1", got.ID)

				_, err = s.GetByRefreshToken(context.Background(), "unknown")
				assert.ErrorIs(t, err, ErrSessionNotFound)
			})

			t.Run("rotation re-indexes the refresh token", func(t *testing.T) {
				s := factory(t)
				sess := newSession("s1", "u1", "r1")
				require.NoError(t, s.Create(context.Background(), sess))

				sess.RefreshTokenID = "r2"
				sess.RefreshedAt = time.Now()
				require.NoError(t, s.Update(context.Background(), sess))

				got, err := s.GetByRefreshToken(context.Background(), "r2")
				require.NoError(t, err)
				assert.Equal(t, "s1", got.ID)

				_, err = s.GetByRefreshToken(context.Background(), "r1")
				assert.ErrorIs(t, err, ErrSessionNotFound, "rotated token is no longer valid")
			})

			t.Run("update of a missing session fails", func(t *testing.T) {
				s := factory(t)
				err := s.Update(context.Background(), newSession("ghost", "u1", "r1"))
				assert.ErrorIs(t, err, ErrSessionNotFound)
			})

			t.Run("delete removes session and indexes", func(t *testing.T) {
				s := factory(t)
				require.NoError(t, s.Create(context.Background(), newSession("s1", "u1", "r1")))
				require.NoError(t, s.Delete(context.Background(), "s1"))

				_, err := s.Get(context.Background(), "s1")
				assert.ErrorIs(t, err, ErrSessionNotFound)
				_, err = s.GetByRefreshToken(context.Background(), "r1")
				assert.ErrorIs(t, err, ErrSessionNotFound)
			})

			t.Run("list by user", func(t *testing.T) {
				s := factory(t)
				for i := 0; i < 3; i++ {
					sess := newSession(fmt.Sprintf("s%d", i), "u1", fmt.Sprintf("r%d", i))
					require.NoError(t, s.Create(context.Background(), sess))
				}
				require.NoError(t, s.Create(context.Background(), newSession("other", "u2", "rx")))

				sessions, err := s.ListByUser(context.Background(), "u1")
				require.NoError(t, err)
				assert.Len(t, sessions, 3)
			})

			t.Run("delete by user", func(t *testing.T) {
				s := factory(t)
				for i := 0; i < 3; i++ {
					sess := newSession(fmt.Sprintf("s%d", i), "u1", fmt.Sprintf("r%d", i))
					require.NoError(t, s.Create(context.Background(), sess))
				}
				require.NoError(t, s.Create(context.Background(), newSession("other", "u2", "rx")))

				n, err := s.DeleteByUser(context.Background(), "u1")
				require.NoError(t, err)
				assert.Equal(t, 3, n)

				sessions, err := s.ListByUser(context.Background(), "u1")
				require.NoError(t, err)
				assert.Empty(t, sessions)

				_, err = s.Get(context.Background(), "other")
				assert.NoError(t, err, "other users are untouched")
			})
		})
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	s := NewMemoryStore(nil)
	defer func() { _ = s.Close() }()

	sess := newSession("s1", "u1", "r1")
	sess.ExpiresAt = time.Now().Add(20 * time.Millisecond)
	require.NoError(t, s.Create(context.Background(), sess))

	time.Sleep(30 * time.Millisecond)

	_, err := s.Get(context.Background(), "s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = s.GetByRefreshToken(context.Background(), "r1")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	sessions, err := s.ListByUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestRedisStore_Expiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()
	s := NewRedisStore(client, nil)

	sess := newSession("s1", "u1", "r1")
	sess.ExpiresAt = time.Now().Add(time.Second)
	require.NoError(t, s.Create(context.Background(), sess))

	mr.FastForward(2 * time.Second)

	_, err := s.Get(context.Background(), "s1")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	// The user index entry is cleaned up lazily on list.
	sessions, err := s.ListByUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestRedisStore_RejectsExpiredSession(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()
	s := NewRedisStore(client, nil)

	sess := newSession("s1", "u1", "r1")
	sess.ExpiresAt = time.Now().Add(-time.Minute)
	assert.Error(t, s.Create(context.Background(), sess))
}

func TestSession_Expired(t *testing.T) {
	now := time.Now()
	assert.False(t, (&Session{ExpiresAt: now.Add(time.Hour)}).Expired(now))
	assert.True(t, (&Session{ExpiresAt: now.Add(-time.Hour)}).Expired(now))
	assert.False(t, (&Session{}).Expired(now), "zero expiry never expires")
}

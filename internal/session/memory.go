package session

import (
	"context"
	"sync"
	"time"

	"github.com/cellvista/gateway/internal/observability"
)

const defaultSweepInterval = 5 * time.Minute

// MemoryStore is an in-memory session store with periodic expiry
// sweeping. Suitable for single-instance deployments.
type MemoryStore struct {
	mu        sync.RWMutex
	sessions  map[string]*Session
	byRefresh map[string]string
	byUser    map[string]map[string]struct{}

	logger   observability.Logger
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewMemoryStore creates a memory store and starts its sweep loop.
func NewMemoryStore(logger observability.Logger) *MemoryStore {
	if logger == nil {
		logger = observability.NopLogger()
	}
	s := &MemoryStore{
		sessions:  make(map[string]*Session),
		byRefresh: make(map[string]string),
		byUser:    make(map[string]map[string]struct{}),
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

// Create implements Store.
func (s *MemoryStore) Create(_ context.Context, sess *Session) error {
	cp := *sess

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[cp.ID] = &cp
	s.byRefresh[cp.RefreshTokenID] = cp.ID
	if s.byUser[cp.UserID] == nil {
		s.byUser[cp.UserID] = make(map[string]struct{})
	}
	s.byUser[cp.UserID][cp.ID] = struct{}{}
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok || sess.Expired(time.Now()) {
		return nil, ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

// GetByRefreshToken implements Store.
func (s *MemoryStore) GetByRefreshToken(_ context.Context, refreshTokenID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byRefresh[refreshTokenID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	sess, ok := s.sessions[id]
	if !ok || sess.Expired(time.Now()) {
		return nil, ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

// Update implements Store.
func (s *MemoryStore) Update(_ context.Context, sess *Session) error {
	cp := *sess

	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.sessions[cp.ID]
	if !ok {
		return ErrSessionNotFound
	}
	if old.RefreshTokenID != cp.RefreshTokenID {
		delete(s.byRefresh, old.RefreshTokenID)
		s.byRefresh[cp.RefreshTokenID] = cp.ID
	}
	s.sessions[cp.ID] = &cp
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(id)
	return nil
}

// ListByUser implements Store.
func (s *MemoryStore) ListByUser(_ context.Context, userID string) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	var out []*Session
	for id := range s.byUser[userID] {
		sess, ok := s.sessions[id]
		if !ok || sess.Expired(now) {
			continue
		}
		cp := *sess
		out = append(out, &cp)
	}
	return out, nil
}

// DeleteByUser implements Store.
func (s *MemoryStore) DeleteByUser(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.byUser[userID]
	count := len(ids)
	for id := range ids {
		s.removeLocked(id)
	}
	return count, nil
}

// removeLocked deletes a session and its index entries. Caller holds
// the write lock.
func (s *MemoryStore) removeLocked(id string) {
	sess, ok := s.sessions[id]
	if !ok {
		return
	}
	delete(s.sessions, id)
	delete(s.byRefresh, sess.RefreshTokenID)
	if users := s.byUser[sess.UserID]; users != nil {
		delete(users, id)
		if len(users) == 0 {
			delete(s.byUser, sess.UserID)
		}
	}
}

func (s *MemoryStore) sweepLoop() {
	ticker := time.NewTicker(defaultSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep()
		case <-s.stopCh:
			return
		}
	}
}

func (s *MemoryStore) sweep() {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, sess := range s.sessions {
		if sess.Expired(now) {
			s.removeLocked(id)
		}
	}
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	return nil
}

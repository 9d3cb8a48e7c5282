package session

import (
	"context"
	"sync"
	"time"

	"github.com/voxguard-ai/voxguard/pkg/voice"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store].
// It is suitable for single-process deployments and testing.
type MemStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{
		sessions: make(map[string]*Session),
	}
}

// Get implements [Store.Get]. The returned session is a copy; mutating it does
// not affect the stored value until Put or Update is called.
func (s *MemStore) Get(ctx context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sess.Clone(), nil
}

// Put implements [Store.Put].
func (s *MemStore) Put(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := sess.Clone()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	stored.UpdatedAt = time.Now().UTC()
	s.sessions[sess.ID] = stored
	return nil
}

// Update implements [Store.Update].
func (s *MemStore) Update(ctx context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sess.ID]; !ok {
		return ErrNotFound
	}
	stored := sess.Clone()
	stored.UpdatedAt = time.Now().UTC()
	s.sessions[sess.ID] = stored
	return nil
}

// SessionsOnProvider implements [Store.SessionsOnProvider]. Order is not
// guaranteed.
func (s *MemStore) SessionsOnProvider(ctx context.Context, provider voice.ProviderID) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for id, sess := range s.sessions {
		if sess.ProviderID == provider {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

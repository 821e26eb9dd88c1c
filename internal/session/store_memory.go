package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory session store useful for tests and
// single-process deployments. Entries survive their TTL until Delete so
// the batch processor can inspect them, mirroring the Redis store's
// retention window.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
	clock    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]Session),
		clock:    time.Now,
	}
}

func (s *MemoryStore) Put(ctx context.Context, sess Session, ttl time.Duration) error {
	_ = ctx
	if sess.ExpiresAt.IsZero() && ttl > 0 {
		sess.ExpiresAt = s.clock().UTC().Add(ttl)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.CallID] = sess
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, callID string) (Session, bool, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[callID]
	return sess, ok, nil
}

func (s *MemoryStore) Delete(ctx context.Context, callID string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, callID)
	return nil
}

func (s *MemoryStore) ListExpired(ctx context.Context, now time.Time) ([]Session, error) {
	_ = ctx
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Session
	for _, sess := range s.sessions {
		if !sess.ExpiresAt.IsZero() && !now.Before(sess.ExpiresAt) {
			out = append(out, sess)
		}
	}
	return out, nil
}

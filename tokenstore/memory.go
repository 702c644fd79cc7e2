package tokenstore

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process [Store].
type MemoryStore struct {
	mu     sync.Mutex
	tokens map[string]map[string]time.Time
	now    func() time.Time
}

// NewMemoryStore creates a MemoryStore. now may be nil.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{tokens: make(map[string]map[string]time.Time), now: now}
}

func (s *MemoryStore) Add(_ context.Context, userID, fingerprint string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.tokens[userID]
	if set == nil {
		set = make(map[string]time.Time)
		s.tokens[userID] = set
	}
	now := s.now()
	for fp, exp := range set {
		if !exp.After(now) {
			delete(set, fp)
		}
	}
	set[fingerprint] = expiresAt
	return nil
}

func (s *MemoryStore) Remove(_ context.Context, userID, fingerprint string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.tokens[userID]
	exp, ok := set[fingerprint]
	if !ok {
		return false, nil
	}
	delete(set, fingerprint)
	if len(set) == 0 {
		delete(s.tokens, userID)
	}
	return exp.After(s.now()), nil
}

func (s *MemoryStore) RemoveAll(_ context.Context, userID string) error {
	s.mu.Lock()
	delete(s.tokens, userID)
	s.mu.Unlock()
	return nil
}

package session

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memoryEntry struct {
	mu  sync.Mutex
	rec *Record
}

// MemoryStore keeps sessions in process memory. Each session has its own
// mutex, so rotations on different sessions never contend.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memoryEntry
	byUser   map[string][]string
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*memoryEntry),
		byUser:   make(map[string][]string),
	}
}

// Create stores a copy of the new record. A duplicate id yields
// [ErrAlreadyExists].
func (s *MemoryStore) Create(_ context.Context, p CreateParams) (*Record, error) {
	rec := p.record()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[rec.ID]; ok {
		return nil, ErrAlreadyExists
	}
	s.sessions[rec.ID] = &memoryEntry{rec: rec}
	s.byUser[rec.UserID] = append(s.byUser[rec.UserID], rec.ID)
	return rec.clone(), nil
}

func (s *MemoryStore) entry(id string) *memoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[id]
}

// FindByID returns a copy of the record or [ErrNotFound].
func (s *MemoryStore) FindByID(_ context.Context, id string) (*Record, error) {
	e := s.entry(id)
	if e == nil {
		return nil, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rec.clone(), nil
}

// Rotate performs the compare-and-swap under the session's own mutex.
func (s *MemoryStore) Rotate(_ context.Context, p RotateParams) (RotateOutcome, error) {
	e := s.entry(p.SessionID)
	if e == nil {
		return RotateOutcome{}, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rec := e.rec
	if rec.Revoked() || rec.Expired(p.Now) || rec.CurrentFingerprint != p.IncomingFingerprint {
		return outcomeFrom(rec, p.Now), nil
	}

	now := p.Now
	rec.PreviousFingerprint = rec.CurrentFingerprint
	rec.PreviousTokenID = rec.CurrentTokenID
	rec.CurrentFingerprint = p.NewFingerprint
	rec.CurrentTokenID = p.NewTokenID
	rec.LastUsedAt = &now
	rec.ExpiresAt = p.NewExpiresAt

	return RotateOutcome{Rotated: true, Found: true, UserID: rec.UserID}, nil
}

// Revoke marks the session revoked unless it already is.
func (s *MemoryStore) Revoke(_ context.Context, id, reason string, at time.Time) error {
	e := s.entry(id)
	if e == nil {
		return nil
	}
	e.mu.Lock()
	revokeLocked(e.rec, reason, at)
	e.mu.Unlock()
	return nil
}

func revokeLocked(rec *Record, reason string, at time.Time) bool {
	if rec.Revoked() {
		return false
	}
	rec.RevokedAt = &at
	rec.RevokedReason = reason
	return true
}

func (s *MemoryStore) userEntries(userID string) []*memoryEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byUser[userID]
	out := make([]*memoryEntry, 0, len(ids))
	for _, id := range ids {
		if e := s.sessions[id]; e != nil {
			out = append(out, e)
		}
	}
	return out
}

// RevokeAllForUser revokes every active session of userID and returns how
// many changed.
func (s *MemoryStore) RevokeAllForUser(_ context.Context, userID, reason string, at time.Time) (int, error) {
	count := 0
	for _, e := range s.userEntries(userID) {
		e.mu.Lock()
		if revokeLocked(e.rec, reason, at) {
			count++
		}
		e.mu.Unlock()
	}
	return count, nil
}

// ListForUser returns copies of the user's sessions, newest first.
func (s *MemoryStore) ListForUser(_ context.Context, userID string) ([]*Record, error) {
	entries := s.userEntries(userID)
	out := make([]*Record, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.rec.clone())
		e.mu.Unlock()
	}
	sortNewestFirst(out)
	return out, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func sortNewestFirst(recs []*Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].ID > recs[j].ID
		}
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
}

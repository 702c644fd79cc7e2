// Package users provides the account lookups the engine needs, backed by
// memory or a relational `users` table.
package users

import (
	"context"
	"errors"
	"strings"
	"sync"

	goSession "github.com/MrEthical07/goSession"
	"github.com/google/uuid"
)

// ErrDuplicateIdentifier is returned when creating a user whose identifier is taken.
var ErrDuplicateIdentifier = errors.New("identifier already registered")

// NewUser is the input for creating an account.
type NewUser struct {
	Identifier   string
	Email        string
	Role         string
	PasswordHash string
}

func (n NewUser) record() goSession.UserRecord {
	return goSession.UserRecord{
		UserID:       uuid.NewString(),
		Identifier:   normalizeIdentifier(n.Identifier),
		Email:        n.Email,
		Role:         n.Role,
		PasswordHash: n.PasswordHash,
	}
}

func normalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

// MemoryStore keeps accounts in process memory.
type MemoryStore struct {
	mu           sync.RWMutex
	byID         map[string]goSession.UserRecord
	byIdentifier map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:         make(map[string]goSession.UserRecord),
		byIdentifier: make(map[string]string),
	}
}

func (s *MemoryStore) Create(_ context.Context, in NewUser) (goSession.UserRecord, error) {
	rec := in.record()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byIdentifier[rec.Identifier]; ok {
		return goSession.UserRecord{}, ErrDuplicateIdentifier
	}
	s.byID[rec.UserID] = rec
	s.byIdentifier[rec.Identifier] = rec.UserID
	return rec, nil
}

// SetDisabled toggles the account's disabled flag.
func (s *MemoryStore) SetDisabled(_ context.Context, userID string, disabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[userID]
	if !ok {
		return goSession.ErrUserNotFound
	}
	rec.Disabled = disabled
	s.byID[userID] = rec
	return nil
}

func (s *MemoryStore) GetUserByIdentifier(_ context.Context, identifier string) (goSession.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byIdentifier[normalizeIdentifier(identifier)]
	if !ok {
		return goSession.UserRecord{}, goSession.ErrUserNotFound
	}
	return s.byID[id], nil
}

func (s *MemoryStore) GetUserByID(_ context.Context, userID string) (goSession.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[userID]
	if !ok {
		return goSession.UserRecord{}, goSession.ErrUserNotFound
	}
	return rec, nil
}

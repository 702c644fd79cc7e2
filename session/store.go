package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a session id is unknown to the store.
	ErrNotFound = errors.New("session not found")

	// ErrStoreUnavailable wraps every backend I/O failure.
	ErrStoreUnavailable = errors.New("session store unavailable")

	// ErrAlreadyExists is returned by Create for a duplicate session id.
	ErrAlreadyExists = errors.New("session already exists")
)

// Revocation reasons written by this module.
const (
	// ReasonTokenReuse marks sessions revoked by a reuse cascade.
	ReasonTokenReuse = "token_reuse_detected"
	// ReasonLogout marks a single-session logout.
	ReasonLogout = "logout"
	// ReasonLogoutAll marks a user-requested logout everywhere.
	ReasonLogoutAll = "user_requested_logout_all"
	// ReasonAdmin is the default for explicit revocation.
	ReasonAdmin = "revoked"
)

// Store persists session records. Every backend must make Rotate a single
// atomic compare-and-swap per session and keep the user index consistent with
// the record set.
type Store interface {
	// Create persists a new session. A duplicate id yields ErrAlreadyExists.
	Create(ctx context.Context, p CreateParams) (*Record, error)
	// FindByID returns the session or ErrNotFound.
	FindByID(ctx context.Context, id string) (*Record, error)
	// Rotate installs NewFingerprint if and only if IncomingFingerprint is
	// current and the session is active, as one atomic step.
	Rotate(ctx context.Context, p RotateParams) (RotateOutcome, error)
	// Revoke is idempotent and keeps the first revocation time and reason.
	// Unknown ids are ignored.
	Revoke(ctx context.Context, id, reason string, at time.Time) error
	// RevokeAllForUser revokes every non-revoked session of userID and
	// returns how many changed.
	RevokeAllForUser(ctx context.Context, userID, reason string, at time.Time) (int, error)
	// ListForUser returns the user's sessions, newest first.
	ListForUser(ctx context.Context, userID string) ([]*Record, error)
	// Ping reports backend reachability.
	Ping(ctx context.Context) error
	// Close releases resources the store owns.
	Close() error
}

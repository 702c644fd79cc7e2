package tokenstore

import (
	"context"
	"errors"
	"time"
)

// ErrUnavailable wraps backend failures.
var ErrUnavailable = errors.New("token store unavailable")

// Store records which refresh-token fingerprints a user still holds. It backs
// refresh requests that carry no session id.
type Store interface {
	Add(ctx context.Context, userID, fingerprint string, expiresAt time.Time) error
	// Remove deletes fingerprint and reports whether it was present. Exactly
	// one of several concurrent callers observes true.
	Remove(ctx context.Context, userID, fingerprint string) (bool, error)
	RemoveAll(ctx context.Context, userID string) error
}

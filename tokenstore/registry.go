package tokenstore

import (
	"context"
	"time"

	"github.com/MrEthical07/goSession/tokenhash"
)

// Registry stores fingerprints of raw refresh tokens in a [Store]. Lookups
// accept fingerprints under every configured key; writes use the primary key.
type Registry struct {
	store  Store
	hasher *tokenhash.Hasher
	now    func() time.Time
}

func NewRegistry(store Store, hasher *tokenhash.Hasher, now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{store: store, hasher: hasher, now: now}
}

// Register records raw as held by userID until ttl elapses.
func (r *Registry) Register(ctx context.Context, userID, raw string, ttl time.Duration) error {
	fp, err := r.hasher.Hash(raw)
	if err != nil {
		return err
	}
	return r.store.Add(ctx, userID, fp, r.now().Add(ttl))
}

// Consume removes raw and reports whether it was held. Concurrent callers
// presenting the same token see true at most once.
func (r *Registry) Consume(ctx context.Context, userID, raw string) (bool, error) {
	candidates, err := r.hasher.Candidates(raw)
	if err != nil {
		return false, err
	}
	for _, fp := range candidates {
		ok, err := r.store.Remove(ctx, userID, fp)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Revoke removes raw regardless of whether it was held.
func (r *Registry) Revoke(ctx context.Context, userID, raw string) error {
	_, err := r.Consume(ctx, userID, raw)
	return err
}

// RevokeAll forgets every token of userID.
func (r *Registry) RevokeAll(ctx context.Context, userID string) error {
	return r.store.RemoveAll(ctx, userID)
}

package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type storeFactory func(t *testing.T) Store

func newMemoryTestStore(t *testing.T) Store {
	t.Helper()
	return NewMemoryStore()
}

func newRedisTestStore(t *testing.T) Store {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		rdb.Close()
		mr.Close()
	})
	return NewRedisStore(rdb, "gs:")
}

func newSQLiteTestStore(t *testing.T) Store {
	t.Helper()
	ctx := context.Background()
	db, err := OpenSQL(ctx, DialectSQLite, filepath.Join(t.TempDir(), "sessions.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	store := NewSQLStore(db, DialectSQLite)
	if err := store.CreateSchema(ctx); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

var backends = map[string]storeFactory{
	"memory": newMemoryTestStore,
	"redis":  newRedisTestStore,
	"sqlite": newSQLiteTestStore,
}

func forEachBackend(t *testing.T, fn func(t *testing.T, store Store)) {
	t.Helper()
	for name, factory := range backends {
		factory := factory
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func createTestSession(t *testing.T, store Store, id, userID, fp string, created time.Time) *Record {
	t.Helper()
	rec, err := store.Create(context.Background(), CreateParams{
		ID:          id,
		UserID:      userID,
		Fingerprint: fp,
		TokenID:     "jti-" + fp,
		DeviceInfo:  map[string]string{"ua": "test-agent"},
		IPAddress:   "203.0.113.7",
		CreatedAt:   created,
		ExpiresAt:   created.Add(time.Hour),
	})
	if err != nil {
		t.Fatalf("create %s: %v", id, err)
	}
	return rec
}

func rotateParams(id, incoming, next string, now time.Time) RotateParams {
	return RotateParams{
		SessionID:           id,
		IncomingFingerprint: incoming,
		NewFingerprint:      next,
		NewTokenID:          "jti-" + next,
		NewExpiresAt:        now.Add(2 * time.Hour),
		Now:                 now,
	}
}

func TestStoreCreateAndFind(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		createTestSession(t, store, "s1", "u1", "fp0", baseTime)

		rec, err := store.FindByID(ctx, "s1")
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if rec.UserID != "u1" || rec.CurrentFingerprint != "fp0" || rec.CurrentTokenID != "jti-fp0" {
			t.Fatalf("unexpected record: %+v", rec)
		}
		if rec.PreviousFingerprint != "" || rec.PreviousTokenID != "" {
			t.Fatalf("expected empty previous fields, got %+v", rec)
		}
		if rec.DeviceInfo["ua"] != "test-agent" || rec.IPAddress != "203.0.113.7" {
			t.Fatalf("metadata not persisted: %+v", rec)
		}
		if !rec.CreatedAt.Equal(baseTime) || !rec.ExpiresAt.Equal(baseTime.Add(time.Hour)) {
			t.Fatalf("timestamps not persisted: created=%v expires=%v", rec.CreatedAt, rec.ExpiresAt)
		}
		if rec.LastUsedAt != nil || rec.RevokedAt != nil {
			t.Fatalf("expected unset last-used and revoked, got %+v", rec)
		}

		if _, err := store.FindByID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestStoreCreateDuplicate(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store) {
		createTestSession(t, store, "s1", "u1", "fp0", baseTime)
		_, err := store.Create(context.Background(), CreateParams{
			ID: "s1", UserID: "u2", Fingerprint: "x", CreatedAt: baseTime, ExpiresAt: baseTime.Add(time.Hour),
		})
		if !errors.Is(err, ErrAlreadyExists) {
			t.Fatalf("expected ErrAlreadyExists, got %v", err)
		}
	})
}

func TestStoreRotateShiftsGeneration(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		createTestSession(t, store, "s1", "u1", "fp0", baseTime)

		now := baseTime.Add(time.Minute)
		out, err := store.Rotate(ctx, rotateParams("s1", "fp0", "fp1", now))
		if err != nil {
			t.Fatalf("rotate: %v", err)
		}
		if !out.Rotated || !out.Found || out.UserID != "u1" {
			t.Fatalf("expected rotation, got %+v", out)
		}

		rec, err := store.FindByID(ctx, "s1")
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if rec.CurrentFingerprint != "fp1" || rec.PreviousFingerprint != "fp0" {
			t.Fatalf("fingerprints not shifted: %+v", rec)
		}
		if rec.CurrentTokenID != "jti-fp1" || rec.PreviousTokenID != "jti-fp0" {
			t.Fatalf("token ids not shifted: %+v", rec)
		}
		if rec.LastUsedAt == nil || !rec.LastUsedAt.Equal(now) {
			t.Fatalf("expected last used %v, got %v", now, rec.LastUsedAt)
		}
		if !rec.ExpiresAt.Equal(now.Add(2 * time.Hour)) {
			t.Fatalf("expiry not extended: %v", rec.ExpiresAt)
		}
	})
}

func TestStoreRotateMismatchReportsPrevious(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		createTestSession(t, store, "s1", "u1", "fp0", baseTime)
		first := baseTime.Add(time.Minute)
		if _, err := store.Rotate(ctx, rotateParams("s1", "fp0", "fp1", first)); err != nil {
			t.Fatalf("rotate: %v", err)
		}

		out, err := store.Rotate(ctx, rotateParams("s1", "fp0", "fp2", baseTime.Add(2*time.Minute)))
		if err != nil {
			t.Fatalf("replay rotate: %v", err)
		}
		if out.Rotated || !out.Found || out.UserID != "u1" {
			t.Fatalf("expected rejected rotation with owner, got %+v", out)
		}
		if out.PreviousFingerprint != "fp0" || out.PreviousTokenID != "jti-fp0" {
			t.Fatalf("expected previous fp0, got %+v", out)
		}
		if out.LastRotatedAt == nil || !out.LastRotatedAt.Equal(first) {
			t.Fatalf("expected last rotated %v, got %v", first, out.LastRotatedAt)
		}
		if out.Revoked || out.Expired {
			t.Fatalf("unexpected terminal flags: %+v", out)
		}

		rec, _ := store.FindByID(ctx, "s1")
		if rec.CurrentFingerprint != "fp1" {
			t.Fatalf("mismatch must not mutate, current=%s", rec.CurrentFingerprint)
		}
	})
}

func TestStoreRotateMissingSession(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store) {
		out, err := store.Rotate(context.Background(), rotateParams("nope", "fp0", "fp1", baseTime))
		if err != nil {
			t.Fatalf("rotate: %v", err)
		}
		if out.Rotated || out.Found || out.UserID != "" {
			t.Fatalf("expected not found outcome, got %+v", out)
		}
	})
}

func TestStoreRevokedIsTerminal(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		createTestSession(t, store, "s1", "u1", "fp0", baseTime)
		if _, err := store.Rotate(ctx, rotateParams("s1", "fp0", "fp1", baseTime.Add(time.Second))); err != nil {
			t.Fatalf("rotate: %v", err)
		}
		if err := store.Revoke(ctx, "s1", ReasonLogout, baseTime.Add(2*time.Second)); err != nil {
			t.Fatalf("revoke: %v", err)
		}

		out, err := store.Rotate(ctx, rotateParams("s1", "fp1", "fp2", baseTime.Add(3*time.Second)))
		if err != nil {
			t.Fatalf("rotate after revoke: %v", err)
		}
		if out.Rotated || !out.Revoked || out.RevokedReason != ReasonLogout {
			t.Fatalf("expected revoked outcome, got %+v", out)
		}
		if out.PreviousFingerprint != "fp0" || out.UserID != "u1" {
			t.Fatalf("revoked outcome must surface diagnostics, got %+v", out)
		}
	})
}

func TestStoreRotateExpired(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store) {
		createTestSession(t, store, "s1", "u1", "fp0", baseTime)
		out, err := store.Rotate(context.Background(), rotateParams("s1", "fp0", "fp1", baseTime.Add(time.Hour)))
		if err != nil {
			t.Fatalf("rotate: %v", err)
		}
		if out.Rotated || !out.Expired {
			t.Fatalf("expected expired outcome, got %+v", out)
		}
	})
}

func TestStoreRevokeIdempotent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		createTestSession(t, store, "s1", "u1", "fp0", baseTime)

		first := baseTime.Add(time.Minute)
		if err := store.Revoke(ctx, "s1", ReasonLogout, first); err != nil {
			t.Fatalf("first revoke: %v", err)
		}
		if err := store.Revoke(ctx, "s1", ReasonAdmin, first.Add(time.Minute)); err != nil {
			t.Fatalf("second revoke: %v", err)
		}
		rec, err := store.FindByID(ctx, "s1")
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if rec.RevokedAt == nil || !rec.RevokedAt.Equal(first) || rec.RevokedReason != ReasonLogout {
			t.Fatalf("expected first revocation kept, got at=%v reason=%s", rec.RevokedAt, rec.RevokedReason)
		}

		if err := store.Revoke(ctx, "ghost", ReasonLogout, first); err != nil {
			t.Fatalf("revoke unknown: %v", err)
		}
		if _, err := store.FindByID(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("revoke must not create records, got %v", err)
		}
	})
}

func TestStoreRevokeAllCountsOnlyActive(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		createTestSession(t, store, "s1", "u1", "a", baseTime)
		createTestSession(t, store, "s2", "u1", "b", baseTime.Add(time.Second))
		createTestSession(t, store, "s3", "u1", "c", baseTime.Add(2*time.Second))
		createTestSession(t, store, "s4", "u2", "d", baseTime)

		if err := store.Revoke(ctx, "s2", ReasonLogout, baseTime); err != nil {
			t.Fatalf("revoke: %v", err)
		}

		n, err := store.RevokeAllForUser(ctx, "u1", ReasonTokenReuse, baseTime.Add(time.Minute))
		if err != nil {
			t.Fatalf("revoke all: %v", err)
		}
		if n != 2 {
			t.Fatalf("expected 2 changed sessions, got %d", n)
		}

		n, err = store.RevokeAllForUser(ctx, "u1", ReasonTokenReuse, baseTime.Add(2*time.Minute))
		if err != nil {
			t.Fatalf("repeat revoke all: %v", err)
		}
		if n != 0 {
			t.Fatalf("expected repeat to change nothing, got %d", n)
		}

		other, _ := store.FindByID(ctx, "s4")
		if other.Revoked() {
			t.Fatal("other user's session must stay active")
		}
		s2, _ := store.FindByID(ctx, "s2")
		if s2.RevokedReason != ReasonLogout {
			t.Fatalf("already revoked session must keep its reason, got %s", s2.RevokedReason)
		}
	})
}

func TestStoreListForUserNewestFirst(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store) {
		createTestSession(t, store, "s1", "u1", "a", baseTime)
		createTestSession(t, store, "s2", "u1", "b", baseTime.Add(2*time.Second))
		createTestSession(t, store, "s3", "u1", "c", baseTime.Add(time.Second))
		createTestSession(t, store, "s4", "u2", "d", baseTime)

		recs, err := store.ListForUser(context.Background(), "u1")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		got := make([]string, 0, len(recs))
		for _, r := range recs {
			got = append(got, r.ID)
		}
		if fmt.Sprint(got) != "[s2 s3 s1]" {
			t.Fatalf("unexpected order %v", got)
		}

		empty, err := store.ListForUser(context.Background(), "nobody")
		if err != nil || len(empty) != 0 {
			t.Fatalf("expected empty list, got %v %v", empty, err)
		}
	})
}

func TestStoreConcurrentRotateSingleWinner(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store) {
		ctx := context.Background()
		createTestSession(t, store, "s1", "u1", "fp0", baseTime)

		const workers = 16
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners []string
			errs    []error
		)
		start := make(chan struct{})
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				next := fmt.Sprintf("fp1-%d", i)
				out, err := store.Rotate(ctx, rotateParams("s1", "fp0", next, baseTime.Add(time.Second)))
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					errs = append(errs, err)
					return
				}
				if out.Rotated {
					winners = append(winners, next)
				}
			}(i)
		}
		close(start)
		wg.Wait()

		if len(errs) > 0 {
			t.Fatalf("unexpected errors: %v", errs)
		}
		if len(winners) != 1 {
			t.Fatalf("expected exactly one winner, got %d", len(winners))
		}
		rec, err := store.FindByID(ctx, "s1")
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if rec.CurrentFingerprint != winners[0] || rec.PreviousFingerprint != "fp0" {
			t.Fatalf("store does not reflect the winner: %+v", rec)
		}
	})
}

package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/goSession/internal/audit"
	"github.com/MrEthical07/goSession/tokenhash"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func newManualClock() *manualClock {
	return &manualClock{now: baseTime}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type captureSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *captureSink) Emit(_ context.Context, e audit.Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *captureSink) count(eventType string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.events {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

type swapKeys struct {
	mu   sync.Mutex
	keys []string
}

func (k *swapKeys) Keys() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]string(nil), k.keys...)
}

func (k *swapKeys) set(keys ...string) {
	k.mu.Lock()
	k.keys = keys
	k.mu.Unlock()
}

type managerFixture struct {
	mgr   *Manager
	store Store
	clock *manualClock
	sink  *captureSink
	keys  *swapKeys
}

func newManagerFixture(t *testing.T, store Store, grace time.Duration) *managerFixture {
	t.Helper()
	f := &managerFixture{
		store: store,
		clock: newManualClock(),
		sink:  &captureSink{},
		keys:  &swapKeys{keys: []string{"primary-key"}},
	}
	f.mgr = NewManager(store, tokenhash.New(f.keys), f.sink, nil, ManagerConfig{
		ReuseGracePeriod: grace,
		Now:              f.clock.Now,
		TokenID: func(raw string) (string, bool) {
			if strings.HasPrefix(raw, "T") {
				return "jti-" + raw, true
			}
			return "", false
		},
	})
	return f
}

func (f *managerFixture) create(t *testing.T, userID, token string) string {
	t.Helper()
	created, err := f.mgr.CreateSession(context.Background(), CreateSessionInput{
		UserID:       userID,
		RefreshToken: token,
		TTL:          time.Hour,
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	return created.SessionID
}

func (f *managerFixture) rotate(t *testing.T, sid, incoming, next string) RotateResult {
	t.Helper()
	res, err := f.mgr.Rotate(context.Background(), RotateInput{
		SessionID:     sid,
		IncomingToken: incoming,
		NewToken:      next,
		TTL:           time.Hour,
	})
	if err != nil {
		t.Fatalf("rotate %s->%s: %v", incoming, next, err)
	}
	return res
}

func TestManagerReuseScenario(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store) {
		f := newManagerFixture(t, store, 0)
		ctx := context.Background()

		sid := f.create(t, "u1", "T0")
		other := f.create(t, "u1", "X0")
		stranger := f.create(t, "u2", "Y0")

		f.clock.Advance(time.Second)
		if res := f.rotate(t, sid, "T0", "T1"); !res.Rotated || res.UserID != "u1" {
			t.Fatalf("expected first rotation to succeed, got %+v", res)
		}

		f.clock.Advance(time.Second)
		res := f.rotate(t, sid, "T0", "T2")
		if res.Rotated || res.Reason != RejectReuse || res.UserID != "u1" {
			t.Fatalf("expected reuse rejection, got %+v", res)
		}

		recs, err := f.mgr.ListForUser(ctx, "u1")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		for _, rec := range recs {
			if !rec.Revoked() || rec.RevokedReason != ReasonTokenReuse {
				t.Fatalf("session %s not revoked for reuse: %+v", rec.ID, rec)
			}
		}
		if len(recs) != 2 {
			t.Fatalf("expected 2 user sessions, got %d", len(recs))
		}
		if rec, _ := f.mgr.FindByID(ctx, stranger); rec.Revoked() {
			t.Fatal("another user's session must not be revoked")
		}
		if n := f.sink.count(audit.EventTokenReuseDetected); n != 1 {
			t.Fatalf("expected exactly one reuse event, got %d", n)
		}

		f.clock.Advance(time.Second)
		res = f.rotate(t, sid, "T1", "T3")
		if res.Rotated || res.Reason != RejectRevoked {
			t.Fatalf("legitimate successor must fail after cascade, got %+v", res)
		}
		if res := f.rotate(t, other, "X0", "X1"); res.Rotated {
			t.Fatal("sibling session must be revoked too")
		}
		if n := f.sink.count(audit.EventTokenReuseDetected); n != 1 {
			t.Fatalf("expected no further reuse events, got %d", n)
		}
	})
}

func TestManagerConcurrentRotationIsNotReuse(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store) {
		f := newManagerFixture(t, store, 0)
		sid := f.create(t, "u1", "T0")

		// Every request read the session before any of them rotated it.
		observedAt := f.clock.Now()
		observed, err := f.mgr.FindByID(context.Background(), sid)
		if err != nil {
			t.Fatalf("find: %v", err)
		}

		const workers = 8
		results := make([]RotateResult, workers)
		errs := make([]error, workers)
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				<-start
				results[i], errs[i] = f.mgr.Rotate(context.Background(), RotateInput{
					SessionID:     sid,
					IncomingToken: "T0",
					NewToken:      fmt.Sprintf("T1-%d", i),
					TTL:           time.Hour,
					Observed:      observed,
					ObservedAt:    observedAt,
				})
			}(i)
		}
		close(start)
		wg.Wait()

		winners := 0
		for i, res := range results {
			if errs[i] != nil {
				t.Fatalf("worker %d: %v", i, errs[i])
			}
			if res.Rotated {
				winners++
				continue
			}
			if res.Reason != RejectSuperseded {
				t.Fatalf("loser %d: expected superseded, got %s", i, res.Reason)
			}
		}
		if winners != 1 {
			t.Fatalf("expected one winner, got %d", winners)
		}
		if n := f.sink.count(audit.EventTokenReuseDetected); n != 0 {
			t.Fatalf("race must not be flagged as reuse, got %d events", n)
		}
		rec, err := f.mgr.FindByID(context.Background(), sid)
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if rec.Revoked() {
			t.Fatal("session must stay active after a lost race")
		}
	})
}

// inFlightStore lets a second request read the session while the first
// request's swap is still on its way to the backend, and only lets the second
// swap through once the first has committed.
type inFlightStore struct {
	Store
	winnerFP  string
	reads     atomic.Int32
	bothRead  chan struct{}
	committed chan struct{}
}

func newInFlightStore(store Store, winnerFP string) *inFlightStore {
	return &inFlightStore{
		Store:     store,
		winnerFP:  winnerFP,
		bothRead:  make(chan struct{}),
		committed: make(chan struct{}),
	}
}

func (s *inFlightStore) FindByID(ctx context.Context, id string) (*Record, error) {
	rec, err := s.Store.FindByID(ctx, id)
	if s.reads.Add(1) == 2 {
		close(s.bothRead)
	}
	return rec, err
}

func (s *inFlightStore) Rotate(ctx context.Context, p RotateParams) (RotateOutcome, error) {
	if p.NewFingerprint == s.winnerFP {
		<-s.bothRead
		out, err := s.Store.Rotate(ctx, p)
		close(s.committed)
		return out, err
	}
	<-s.committed
	return s.Store.Rotate(ctx, p)
}

func TestManagerLostRaceWithSlowCommitIsNotReuse(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store) {
		winnerFP, err := tokenhash.New(tokenhash.StaticKeys{"primary-key"}).Hash("T1-winner")
		if err != nil {
			t.Fatalf("hash: %v", err)
		}
		slow := newInFlightStore(store, winnerFP)
		f := newManagerFixture(t, slow, 0)
		sid := f.create(t, "u1", "T0")
		f.clock.Advance(time.Second)

		var wg sync.WaitGroup
		var winner, loser RotateResult
		var winnerErr, loserErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			winner, winnerErr = f.mgr.Rotate(context.Background(), RotateInput{
				SessionID: sid, IncomingToken: "T0", NewToken: "T1-winner", TTL: time.Hour,
			})
		}()
		go func() {
			defer wg.Done()
			<-time.After(5 * time.Millisecond)
			f.clock.Advance(5 * time.Millisecond)
			loser, loserErr = f.mgr.Rotate(context.Background(), RotateInput{
				SessionID: sid, IncomingToken: "T0", NewToken: "T1-loser", TTL: time.Hour,
			})
		}()
		wg.Wait()

		if winnerErr != nil || loserErr != nil {
			t.Fatalf("rotate errors: %v, %v", winnerErr, loserErr)
		}
		if !winner.Rotated {
			t.Fatalf("expected the first swap to win, got %+v", winner)
		}
		if loser.Rotated || loser.Reason != RejectSuperseded {
			t.Fatalf("expected superseded loser, got %+v", loser)
		}
		if n := f.sink.count(audit.EventTokenReuseDetected); n != 0 {
			t.Fatalf("lost race flagged as reuse: %d events", n)
		}
		rec, err := f.mgr.FindByID(context.Background(), sid)
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if rec.Revoked() {
			t.Fatal("session must stay active after a lost race")
		}
	})
}

func TestManagerGraceBoundaryIsBackendIndependent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store) {
		f := newManagerFixture(t, store, time.Second)
		sid := f.create(t, "u1", "T0")

		f.clock.Advance(time.Second + 1500*time.Nanosecond)
		if res := f.rotate(t, sid, "T0", "T1"); !res.Rotated {
			t.Fatalf("rotate: %+v", res)
		}

		// Exactly one grace period later at microsecond precision.
		f.clock.Advance(time.Second + 200*time.Nanosecond)
		if res := f.rotate(t, sid, "T0", "T2"); res.Reason != RejectSuperseded {
			t.Fatalf("expected superseded at the grace boundary, got %+v", res)
		}

		f.clock.Advance(time.Microsecond)
		if res := f.rotate(t, sid, "T0", "T2"); res.Reason != RejectReuse {
			t.Fatalf("expected reuse past the grace boundary, got %+v", res)
		}
		if n := f.sink.count(audit.EventTokenReuseDetected); n != 1 {
			t.Fatalf("expected one reuse event, got %d", n)
		}
	})
}

func TestManagerStaleTokenIsOrdinaryRejection(t *testing.T) {
	f := newManagerFixture(t, NewMemoryStore(), 0)
	sid := f.create(t, "u1", "T0")

	for _, step := range [][2]string{{"T0", "T1"}, {"T1", "T2"}, {"T2", "T3"}} {
		f.clock.Advance(time.Second)
		if res := f.rotate(t, sid, step[0], step[1]); !res.Rotated {
			t.Fatalf("rotation %s->%s failed: %+v", step[0], step[1], res)
		}
	}

	f.clock.Advance(time.Second)
	res := f.rotate(t, sid, "T1", "T9")
	if res.Rotated || res.Reason != RejectConflict || res.UserID != "u1" {
		t.Fatalf("expected conflict, got %+v", res)
	}
	if f.sink.count(audit.EventTokenReuseDetected) != 0 {
		t.Fatal("stale token must not cascade")
	}
	rec, _ := f.mgr.FindByID(context.Background(), sid)
	if rec.Revoked() {
		t.Fatal("stale token must not revoke the session")
	}
}

func TestManagerRevokedSessionIsTerminal(t *testing.T) {
	f := newManagerFixture(t, NewMemoryStore(), 0)
	ctx := context.Background()
	sid := f.create(t, "u1", "T0")

	if err := f.mgr.Revoke(ctx, sid, ReasonLogout); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	f.clock.Advance(time.Second)
	if res := f.rotate(t, sid, "T0", "T1"); res.Rotated || res.Reason != RejectRevoked {
		t.Fatalf("expected revoked rejection, got %+v", res)
	}
}

func TestManagerReloginAfterFullRevocation(t *testing.T) {
	f := newManagerFixture(t, NewMemoryStore(), 0)
	ctx := context.Background()
	old := f.create(t, "u1", "T0")

	f.clock.Advance(time.Second)
	f.rotate(t, old, "T0", "T1")
	f.clock.Advance(time.Second)
	if res := f.rotate(t, old, "T0", "T2"); res.Reason != RejectReuse {
		t.Fatalf("expected reuse, got %+v", res)
	}

	f.clock.Advance(time.Second)
	fresh := f.create(t, "u1", "N0")
	if fresh == old {
		t.Fatal("expected a new session id")
	}
	f.clock.Advance(time.Second)
	if res := f.rotate(t, fresh, "N0", "N1"); !res.Rotated {
		t.Fatalf("fresh session must rotate, got %+v", res)
	}

	// Replaying the stolen token against the reuse-revoked session must not
	// cascade into the new login.
	f.clock.Advance(time.Second)
	if res := f.rotate(t, old, "T0", "T5"); res.Reason != RejectRevoked {
		t.Fatalf("expected revoked rejection, got %+v", res)
	}
	rec, err := f.mgr.FindByID(ctx, fresh)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if rec.Revoked() {
		t.Fatal("fresh session must stay active")
	}
	if n := f.sink.count(audit.EventTokenReuseDetected); n != 1 {
		t.Fatalf("expected one reuse event, got %d", n)
	}
}

func TestManagerGracePeriod(t *testing.T) {
	f := newManagerFixture(t, NewMemoryStore(), 5*time.Second)
	sid := f.create(t, "u1", "T0")

	f.clock.Advance(time.Second)
	f.rotate(t, sid, "T0", "T1")

	f.clock.Advance(2 * time.Second)
	if res := f.rotate(t, sid, "T0", "T2"); res.Reason != RejectSuperseded {
		t.Fatalf("expected superseded inside grace window, got %+v", res)
	}

	f.clock.Advance(10 * time.Second)
	if res := f.rotate(t, sid, "T0", "T2"); res.Reason != RejectReuse {
		t.Fatalf("expected reuse after grace window, got %+v", res)
	}
}

func TestManagerLegacyKeyRotation(t *testing.T) {
	f := newManagerFixture(t, NewMemoryStore(), 0)
	ctx := context.Background()
	f.keys.set("key-a")
	sid := f.create(t, "u1", "T0")

	f.keys.set("key-b", "key-a")
	f.clock.Advance(time.Second)
	if res := f.rotate(t, sid, "T0", "T1"); !res.Rotated {
		t.Fatalf("legacy-key session must rotate, got %+v", res)
	}

	rec, err := f.mgr.FindByID(ctx, sid)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	want, _ := tokenhash.New(tokenhash.StaticKeys{"key-b"}).Hash("T1")
	if rec.CurrentFingerprint != want {
		t.Fatal("new fingerprint must use the primary key")
	}

	f.clock.Advance(time.Second)
	if res := f.rotate(t, sid, "T0", "T2"); res.Reason != RejectReuse {
		t.Fatalf("replay of a legacy-key token must be detected, got %+v", res)
	}
}

func TestManagerNotFound(t *testing.T) {
	f := newManagerFixture(t, NewMemoryStore(), 0)
	res := f.rotate(t, "missing", "T0", "T1")
	if res.Rotated || res.Reason != RejectNotFound || res.UserID != "" {
		t.Fatalf("expected not found, got %+v", res)
	}
}

func TestManagerCreateSessionRecordsTokenID(t *testing.T) {
	f := newManagerFixture(t, NewMemoryStore(), 0)
	sid := f.create(t, "u1", "T0")
	rec, err := f.mgr.FindByID(context.Background(), sid)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if rec.CurrentTokenID != "jti-T0" {
		t.Fatalf("expected token id, got %q", rec.CurrentTokenID)
	}

	opaque := f.create(t, "u1", "opaque")
	rec, _ = f.mgr.FindByID(context.Background(), opaque)
	if rec.CurrentTokenID != "" {
		t.Fatalf("unparseable token must have no id, got %q", rec.CurrentTokenID)
	}
}

func TestManagerEmptyKeyListIsFatal(t *testing.T) {
	f := newManagerFixture(t, NewMemoryStore(), 0)
	f.keys.set()
	_, err := f.mgr.CreateSession(context.Background(), CreateSessionInput{UserID: "u1", RefreshToken: "T0", TTL: time.Hour})
	if !errors.Is(err, tokenhash.ErrNoKeys) {
		t.Fatalf("expected ErrNoKeys, got %v", err)
	}
}

type failingStore struct {
	*MemoryStore
}

func (failingStore) Rotate(context.Context, RotateParams) (RotateOutcome, error) {
	return RotateOutcome{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, errors.New("dial tcp: refused"))
}

func TestManagerStoreFailureIsNotSwallowed(t *testing.T) {
	f := newManagerFixture(t, failingStore{NewMemoryStore()}, 0)
	sid := f.create(t, "u1", "T0")

	_, err := f.mgr.Rotate(context.Background(), RotateInput{SessionID: sid, IncomingToken: "T0", NewToken: "T1", TTL: time.Hour})
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

package session

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/MrEthical07/goSession/internal/audit"
	"github.com/MrEthical07/goSession/tokenhash"
)

// RejectReason classifies a failed rotation.
type RejectReason int

const (
	// RejectNone is the reason of a successful rotation.
	RejectNone RejectReason = iota
	// RejectNotFound means the session id is unknown.
	RejectNotFound
	// RejectRevoked means the session reached its terminal state.
	RejectRevoked
	// RejectExpired means the session is past its expiry.
	RejectExpired
	// RejectConflict is a fingerprint mismatch that is not reuse.
	RejectConflict
	// RejectSuperseded means the incoming token was superseded after this
	// request read the session: a lost race, not an attack.
	RejectSuperseded
	// RejectReuse means an already-superseded token was replayed and the
	// user's sessions were revoked.
	RejectReuse
)

// String returns the snake_case name used in logs and audit metadata.
func (r RejectReason) String() string {
	switch r {
	case RejectNone:
		return "none"
	case RejectNotFound:
		return "not_found"
	case RejectRevoked:
		return "revoked"
	case RejectExpired:
		return "expired"
	case RejectConflict:
		return "conflict"
	case RejectSuperseded:
		return "superseded"
	case RejectReuse:
		return "reuse"
	default:
		return "unknown"
	}
}

// ManagerConfig tunes a [Manager].
type ManagerConfig struct {
	// ReuseGracePeriod widens the window in which a token superseded just
	// before a request read the session is still treated as a lost race.
	ReuseGracePeriod time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
	// TokenID extracts a token identifier from a raw token. Returning false
	// means the identifier is unavailable; it is never an error.
	TokenID func(raw string) (string, bool)
}

// Manager orchestrates session creation, rotation, reuse detection and
// cascading revocation on top of a [Store]. It keeps no session state between
// calls.
type Manager struct {
	store   Store
	hasher  *tokenhash.Hasher
	sink    audit.Sink
	logger  *zap.Logger
	grace   time.Duration
	now     func() time.Time
	tokenID func(string) (string, bool)
}

// NewManager returns a Manager over store. A nil sink discards reuse events
// and a nil logger discards logs.
func NewManager(store Store, hasher *tokenhash.Hasher, sink audit.Sink, logger *zap.Logger, cfg ManagerConfig) *Manager {
	if sink == nil {
		sink = audit.NoOpSink{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.TokenID == nil {
		cfg.TokenID = func(string) (string, bool) { return "", false }
	}
	if cfg.ReuseGracePeriod < 0 {
		cfg.ReuseGracePeriod = 0
	}
	return &Manager{
		store:   store,
		hasher:  hasher,
		sink:    sink,
		logger:  logger.Named("session"),
		grace:   cfg.ReuseGracePeriod,
		now:     cfg.Now,
		tokenID: cfg.TokenID,
	}
}

// Store returns the underlying store.
func (m *Manager) Store() Store {
	return m.store
}

// CreateSessionInput describes a session for a freshly issued refresh token.
type CreateSessionInput struct {
	UserID       string
	RefreshToken string
	DeviceInfo   map[string]string
	IPAddress    string
	TTL          time.Duration
}

// Created identifies a new session.
type Created struct {
	SessionID string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// CreateSession persists a new session for a freshly issued refresh token.
func (m *Manager) CreateSession(ctx context.Context, in CreateSessionInput) (Created, error) {
	fp, err := m.hasher.Hash(in.RefreshToken)
	if err != nil {
		return Created{}, err
	}
	jti, _ := m.tokenID(in.RefreshToken)

	now := m.now()
	rec, err := m.store.Create(ctx, CreateParams{
		ID:          uuid.NewString(),
		UserID:      in.UserID,
		Fingerprint: fp,
		TokenID:     jti,
		DeviceInfo:  in.DeviceInfo,
		IPAddress:   in.IPAddress,
		CreatedAt:   now,
		ExpiresAt:   now.Add(in.TTL),
	})
	if err != nil {
		m.logStoreError("create session", err, zap.String("user_id", in.UserID))
		return Created{}, err
	}
	return Created{SessionID: rec.ID, IssuedAt: rec.CreatedAt, ExpiresAt: rec.ExpiresAt}, nil
}

// RotateInput is one rotation request.
type RotateInput struct {
	SessionID     string
	IncomingToken string
	NewToken      string
	TTL           time.Duration
	// Observed is the session as read when the request started, and
	// ObservedAt when that read began. A nil Observed makes Rotate read the
	// session itself before attempting the swap.
	Observed   *Record
	ObservedAt time.Time
	// Metadata is attached to the reuse audit event.
	Metadata map[string]string
}

// RotateResult is the outcome of [Manager.Rotate].
type RotateResult struct {
	Rotated bool
	// UserID is the session owner whenever the session exists.
	UserID string
	Reason RejectReason
}

// Rotate swaps the session's current refresh token for NewToken if and only if
// IncomingToken is the current one.
//
// A rejected rotation is reuse only when the incoming token was already the
// session's previous token in the state observed at request start, outside
// the grace period. A token superseded after that read lost a race and is
// rejected as [RejectSuperseded]. Reuse revokes every session of the owner.
// Any other rejection is returned without side effects. Only store failures
// yield an error.
func (m *Manager) Rotate(ctx context.Context, in RotateInput) (RotateResult, error) {
	candidates, err := m.hasher.Candidates(in.IncomingToken)
	if err != nil {
		return RotateResult{}, err
	}
	newFP, err := m.hasher.Hash(in.NewToken)
	if err != nil {
		return RotateResult{}, err
	}
	newJTI, _ := m.tokenID(in.NewToken)

	observed, observedAt := in.Observed, in.ObservedAt
	if observed == nil {
		observedAt = m.now()
		observed, err = m.store.FindByID(ctx, in.SessionID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			m.logStoreError("read session", err, zap.String("session_id", in.SessionID))
			return RotateResult{}, err
		}
	}
	if observedAt.IsZero() {
		observedAt = m.now()
	}
	replayed := m.Replayed(observed, in.IncomingToken, observedAt)

	var out RotateOutcome
	for i, fp := range candidates {
		if i > 0 && fp == candidates[0] {
			continue
		}
		now := m.now()
		out, err = m.store.Rotate(ctx, RotateParams{
			SessionID:           in.SessionID,
			IncomingFingerprint: fp,
			NewFingerprint:      newFP,
			NewTokenID:          newJTI,
			NewExpiresAt:        now.Add(in.TTL),
			Now:                 now,
		})
		if err != nil {
			m.logStoreError("rotate session", err, zap.String("session_id", in.SessionID))
			return RotateResult{}, err
		}
		if out.Rotated {
			if i > 0 {
				m.logger.Info("session rotated with legacy key",
					zap.String("session_id", in.SessionID),
					zap.Int("key_index", i),
				)
			}
			return RotateResult{Rotated: true, UserID: out.UserID}, nil
		}
		if !out.Found || out.Revoked || out.Expired {
			break
		}
	}

	result := RotateResult{UserID: out.UserID, Reason: rejectReason(out)}
	if !out.Found || (out.Revoked && out.RevokedReason == ReasonTokenReuse) {
		return result, nil
	}
	if !replayed {
		if _, ok := m.hasher.Match(in.IncomingToken, out.PreviousFingerprint); ok {
			result.Reason = RejectSuperseded
		}
		return result, nil
	}

	meta := map[string]string{"detected_by": "fingerprint"}
	for k, v := range in.Metadata {
		meta[k] = v
	}
	result.Reason = RejectReuse
	if _, err := m.RevokeForReuse(ctx, out.UserID, in.SessionID, meta); err != nil {
		return result, err
	}
	return result, nil
}

// Replayed reports whether raw had already been superseded in rec, the
// session as read at observedAt, and the supersession is older than the grace
// period. A session already revoked for reuse never reports a replay again.
func (m *Manager) Replayed(rec *Record, raw string, observedAt time.Time) bool {
	if rec == nil || rec.PreviousFingerprint == "" || IsReuseRevoked(rec) {
		return false
	}
	if _, ok := m.hasher.Match(raw, rec.PreviousFingerprint); !ok {
		return false
	}
	return m.PastGrace(rec.LastUsedAt, observedAt)
}

// PastGrace reports whether a rotation at lastRotated is older than the grace
// period at observedAt. With no grace period it is always true. Both instants
// are compared at microsecond precision, the resolution every backend stores.
func (m *Manager) PastGrace(lastRotated *time.Time, observedAt time.Time) bool {
	if m.grace == 0 {
		return true
	}
	if lastRotated == nil {
		return false
	}
	elapsed := observedAt.Truncate(time.Microsecond).Sub(lastRotated.Truncate(time.Microsecond))
	return elapsed > m.grace
}

// RevokeForReuse revokes every session of userID and records the
// token_reuse_detected audit event synchronously. The event is emitted even
// when revocation fails.
func (m *Manager) RevokeForReuse(ctx context.Context, userID, sessionID string, meta map[string]string) (int, error) {
	now := m.now()
	count, err := m.store.RevokeAllForUser(ctx, userID, ReasonTokenReuse, now)

	md := make(map[string]string, len(meta)+2)
	for k, v := range meta {
		md[k] = v
	}
	md["reason"] = "previous_token_reused"
	md["revoked_sessions"] = strconv.Itoa(count)

	event := audit.Event{
		Timestamp: now,
		EventType: audit.EventTokenReuseDetected,
		UserID:    userID,
		SessionID: sessionID,
		Metadata:  md,
	}
	if err != nil {
		event.Error = err.Error()
	}
	m.sink.Emit(ctx, event)

	m.logger.Warn("refresh token reuse detected",
		zap.String("user_id", userID),
		zap.String("session_id", sessionID),
		zap.Int("revoked_sessions", count),
	)
	if err != nil {
		m.logStoreError("revoke sessions after reuse", err, zap.String("user_id", userID))
		return count, err
	}
	return count, nil
}

// IsReuseRevoked reports whether rec was already revoked by reuse detection.
func IsReuseRevoked(rec *Record) bool {
	return rec.Revoked() && rec.RevokedReason == ReasonTokenReuse
}

// Revoke revokes one session with reason. Unknown ids are ignored.
func (m *Manager) Revoke(ctx context.Context, sessionID, reason string) error {
	if err := m.store.Revoke(ctx, sessionID, reason, m.now()); err != nil {
		m.logStoreError("revoke session", err, zap.String("session_id", sessionID))
		return err
	}
	return nil
}

// RevokeAll revokes every active session of userID and returns how many
// changed.
func (m *Manager) RevokeAll(ctx context.Context, userID, reason string) (int, error) {
	n, err := m.store.RevokeAllForUser(ctx, userID, reason, m.now())
	if err != nil {
		m.logStoreError("revoke user sessions", err, zap.String("user_id", userID))
		return n, err
	}
	return n, nil
}

// ListForUser returns the user's sessions, newest first.
func (m *Manager) ListForUser(ctx context.Context, userID string) ([]*Record, error) {
	return m.store.ListForUser(ctx, userID)
}

// FindByID returns the session or [ErrNotFound].
func (m *Manager) FindByID(ctx context.Context, sessionID string) (*Record, error) {
	return m.store.FindByID(ctx, sessionID)
}

func (m *Manager) logStoreError(op string, err error, fields ...zap.Field) {
	if !errors.Is(err, ErrStoreUnavailable) {
		return
	}
	m.logger.Error(op+" failed", append(fields, zap.Error(err))...)
}

func rejectReason(out RotateOutcome) RejectReason {
	switch {
	case !out.Found:
		return RejectNotFound
	case out.Revoked:
		return RejectRevoked
	case out.Expired:
		return RejectExpired
	default:
		return RejectConflict
	}
}

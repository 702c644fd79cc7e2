package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goSession/session"
)

// RefreshFailureKind classifies a rejected refresh for root-level mapping.
type RefreshFailureKind int

const (
	RefreshFailureNone RefreshFailureKind = iota
	RefreshFailureToken
	RefreshFailureSubject
	RefreshFailureSessionNotFound
	RefreshFailureRevoked
	RefreshFailureExpired
	RefreshFailureConflict
	RefreshFailureSuperseded
	RefreshFailureReuse
	RefreshFailureFallbackDisabled
	RefreshFailureFallbackUnknown
	RefreshFailureIssue
	RefreshFailureStore
)

func (k RefreshFailureKind) String() string {
	switch k {
	case RefreshFailureNone:
		return "none"
	case RefreshFailureToken:
		return "invalid_token"
	case RefreshFailureSubject:
		return "subject_mismatch"
	case RefreshFailureSessionNotFound:
		return "session_not_found"
	case RefreshFailureRevoked:
		return "session_revoked"
	case RefreshFailureExpired:
		return "session_expired"
	case RefreshFailureConflict:
		return "rotation_conflict"
	case RefreshFailureSuperseded:
		return "superseded"
	case RefreshFailureReuse:
		return "token_reuse_detected"
	case RefreshFailureFallbackDisabled:
		return "sessionless_disabled"
	case RefreshFailureFallbackUnknown:
		return "sessionless_unknown_token"
	case RefreshFailureIssue:
		return "issue_failed"
	case RefreshFailureStore:
		return "store_unavailable"
	default:
		return "unknown"
	}
}

type RefreshRequest struct {
	UserID       string
	RefreshToken string
	SessionID    string
	IPAddress    string
	UserAgent    string
}

// RefreshResult carries either a new token pair or a classified failure.
type RefreshResult struct {
	Failure      RefreshFailureKind
	Err          error
	UserID       string
	SessionID    string
	AccessToken  string
	RefreshToken string
	// Revoked is the number of sessions revoked by a reuse cascade.
	Revoked int
	// DetectedBy is "token_id" or "fingerprint" when Failure is RefreshFailureReuse.
	DetectedBy string
}

func refreshFailure(kind RefreshFailureKind, err error) RefreshResult {
	return RefreshResult{Failure: kind, Err: err}
}

// RunRefresh exchanges a refresh token for a new pair.
//
// With a session id the session store decides through its compare-and-swap;
// the fallback token registry is only updated after that succeeded. Without a
// session id the registry alone decides and no reuse detection happens.
func RunRefresh(ctx context.Context, req RefreshRequest, deps RefreshDeps) RefreshResult {
	began := deps.Now()

	claims, err := deps.ParseRefresh(req.RefreshToken)
	if err != nil {
		return refreshFailure(RefreshFailureToken, err)
	}
	if req.UserID != "" && claims.Subject != req.UserID {
		return refreshFailure(RefreshFailureSubject, nil)
	}
	userID := claims.Subject

	if req.SessionID == "" {
		return runSessionlessRefresh(ctx, userID, req, deps)
	}

	rec, err := deps.Sessions.FindByID(ctx, req.SessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return refreshFailure(RefreshFailureSessionNotFound, err)
		}
		return refreshFailure(storeOr(RefreshFailureSessionNotFound, err), err)
	}
	if rec.UserID != userID {
		return refreshFailure(RefreshFailureSubject, nil)
	}

	if tokenIDReplayed(claims.ID, rec, began, deps.Sessions) {
		res := refreshFailure(RefreshFailureReuse, nil)
		res.UserID = rec.UserID
		res.SessionID = rec.ID
		res.DetectedBy = "token_id"
		n, err := deps.Sessions.RevokeForReuse(ctx, rec.UserID, rec.ID, map[string]string{
			"detected_by": "token_id",
			"ip":          req.IPAddress,
		})
		res.Revoked = n
		revokeFallbackTokens(ctx, rec.UserID, deps)
		if err != nil {
			res.Failure = storeOr(RefreshFailureReuse, err)
			res.Err = err
		}
		return res
	}

	newRefresh, err := deps.IssueRefresh(userID)
	if err != nil {
		return refreshFailure(RefreshFailureIssue, err)
	}
	access, err := deps.IssueAccess(ctx, userID, req.SessionID)
	if err != nil {
		return refreshFailure(RefreshFailureIssue, err)
	}

	rot, err := deps.Sessions.Rotate(ctx, session.RotateInput{
		SessionID:     req.SessionID,
		IncomingToken: req.RefreshToken,
		NewToken:      newRefresh,
		TTL:           deps.RefreshTTL,
		Observed:      rec,
		ObservedAt:    began,
		Metadata:      map[string]string{"ip": req.IPAddress},
	})
	if err != nil {
		if rot.Reason == session.RejectReuse {
			revokeFallbackTokens(ctx, rot.UserID, deps)
		}
		res := refreshFailure(storeOr(RefreshFailureIssue, err), err)
		res.UserID = rot.UserID
		res.SessionID = req.SessionID
		return res
	}
	if !rot.Rotated {
		res := refreshFailure(rejectFailure(rot.Reason), nil)
		res.UserID = rot.UserID
		res.SessionID = req.SessionID
		if rot.Reason == session.RejectReuse {
			res.DetectedBy = "fingerprint"
			revokeFallbackTokens(ctx, rot.UserID, deps)
		}
		return res
	}

	if deps.Tokens != nil {
		if err := deps.Tokens.Revoke(ctx, userID, req.RefreshToken); err != nil {
			warn(deps.Warn, "fallback token revoke failed", "user_id", userID, "error", err)
		}
		if err := deps.Tokens.Register(ctx, userID, newRefresh, deps.RefreshTTL); err != nil {
			warn(deps.Warn, "fallback token register failed", "user_id", userID, "error", err)
		}
	}

	return RefreshResult{
		UserID:       userID,
		SessionID:    req.SessionID,
		AccessToken:  access,
		RefreshToken: newRefresh,
	}
}

func runSessionlessRefresh(ctx context.Context, userID string, req RefreshRequest, deps RefreshDeps) RefreshResult {
	if !deps.AllowSessionless || deps.Tokens == nil {
		return refreshFailure(RefreshFailureFallbackDisabled, nil)
	}

	newRefresh, err := deps.IssueRefresh(userID)
	if err != nil {
		return refreshFailure(RefreshFailureIssue, err)
	}
	access, err := deps.IssueAccess(ctx, userID, "")
	if err != nil {
		return refreshFailure(RefreshFailureIssue, err)
	}

	ok, err := deps.Tokens.Consume(ctx, userID, req.RefreshToken)
	if err != nil {
		return refreshFailure(storeOr(RefreshFailureFallbackUnknown, err), err)
	}
	if !ok {
		res := refreshFailure(RefreshFailureFallbackUnknown, nil)
		res.UserID = userID
		return res
	}
	if err := deps.Tokens.Register(ctx, userID, newRefresh, deps.RefreshTTL); err != nil {
		return refreshFailure(storeOr(RefreshFailureIssue, err), err)
	}

	return RefreshResult{
		UserID:       userID,
		AccessToken:  access,
		RefreshToken: newRefresh,
	}
}

// tokenIDReplayed detects a replay of the previous generation by jti before
// any write is attempted. rec was read at began, so a match means the token
// had been superseded before this request looked at the session.
func tokenIDReplayed(tokenID string, rec *session.Record, began time.Time, sessions Sessions) bool {
	if tokenID == "" || rec.PreviousTokenID == "" || tokenID != rec.PreviousTokenID {
		return false
	}
	if session.IsReuseRevoked(rec) {
		return false
	}
	return sessions.PastGrace(rec.LastUsedAt, began)
}

func revokeFallbackTokens(ctx context.Context, userID string, deps RefreshDeps) {
	if deps.Tokens == nil || userID == "" {
		return
	}
	if err := deps.Tokens.RevokeAll(ctx, userID); err != nil {
		warn(deps.Warn, "fallback token revoke-all failed", "user_id", userID, "error", err)
	}
}

// storeOr returns RefreshFailureStore for backend outages and kind otherwise.
func storeOr(kind RefreshFailureKind, err error) RefreshFailureKind {
	if isStoreFailure(err) {
		return RefreshFailureStore
	}
	return kind
}

func rejectFailure(reason session.RejectReason) RefreshFailureKind {
	switch reason {
	case session.RejectNotFound:
		return RefreshFailureSessionNotFound
	case session.RejectRevoked:
		return RefreshFailureRevoked
	case session.RejectExpired:
		return RefreshFailureExpired
	case session.RejectSuperseded:
		return RefreshFailureSuperseded
	case session.RejectReuse:
		return RefreshFailureReuse
	default:
		return RefreshFailureConflict
	}
}

package goSession

import (
	"errors"

	"github.com/MrEthical07/goSession/internal/flows"
)

var (
	// ErrUnauthorized is returned when an access token is missing or invalid.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidCredentials is returned for every login failure caused by the caller.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserNotFound must be returned by a [UserProvider] for unknown users.
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidToken marks a token that failed signature, expiry or claim checks.
	ErrInvalidToken = errors.New("invalid token")
	// ErrSessionNotFound marks a refresh against an unknown session.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionRevoked marks a refresh against a revoked or expired session.
	ErrSessionRevoked = errors.New("session revoked")
	// ErrRotationConflict marks a refresh whose token is no longer current.
	ErrRotationConflict = errors.New("refresh rotation conflict")
	// ErrReuseDetected marks a replayed refresh token; the user's sessions were revoked.
	ErrReuseDetected = errors.New("refresh token reuse detected")
	// ErrStoreUnavailable is returned when a backing store could not be reached.
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrRefreshInvalid is the uniform error for rejected refresh requests.
	ErrRefreshInvalid = errors.New("refresh token invalid")
	// ErrForbidden is returned when a user addresses another user's session.
	ErrForbidden = errors.New("forbidden")
	// ErrEngineNotReady is returned by a nil or closed Engine.
	ErrEngineNotReady = errors.New("engine not ready")
)

// RefreshFailureKind classifies a rejected refresh.
type RefreshFailureKind = flows.RefreshFailureKind

const (
	RefreshFailureToken            = flows.RefreshFailureToken
	RefreshFailureSubject          = flows.RefreshFailureSubject
	RefreshFailureSessionNotFound  = flows.RefreshFailureSessionNotFound
	RefreshFailureRevoked          = flows.RefreshFailureRevoked
	RefreshFailureExpired          = flows.RefreshFailureExpired
	RefreshFailureConflict         = flows.RefreshFailureConflict
	RefreshFailureSuperseded       = flows.RefreshFailureSuperseded
	RefreshFailureReuse            = flows.RefreshFailureReuse
	RefreshFailureFallbackDisabled = flows.RefreshFailureFallbackDisabled
	RefreshFailureFallbackUnknown  = flows.RefreshFailureFallbackUnknown
	RefreshFailureIssue            = flows.RefreshFailureIssue
	RefreshFailureStore            = flows.RefreshFailureStore
)

// RefreshError is returned by [Engine.Refresh]. It matches ErrRefreshInvalid
// or ErrStoreUnavailable, plus a detail sentinel such as ErrReuseDetected.
type RefreshError struct {
	Kind  RefreshFailureKind
	Cause error
}

func (e *RefreshError) Error() string {
	if e.Kind == RefreshFailureStore {
		return ErrStoreUnavailable.Error()
	}
	return ErrRefreshInvalid.Error()
}

func (e *RefreshError) Unwrap() []error {
	errs := make([]error, 0, 3)
	if e.Kind == RefreshFailureStore {
		errs = append(errs, ErrStoreUnavailable)
	} else {
		errs = append(errs, ErrRefreshInvalid)
	}
	if detail := refreshDetail(e.Kind); detail != nil {
		errs = append(errs, detail)
	}
	if e.Cause != nil {
		errs = append(errs, e.Cause)
	}
	return errs
}

func refreshDetail(kind RefreshFailureKind) error {
	switch kind {
	case flows.RefreshFailureToken, flows.RefreshFailureSubject:
		return ErrInvalidToken
	case flows.RefreshFailureSessionNotFound, flows.RefreshFailureFallbackUnknown:
		return ErrSessionNotFound
	case flows.RefreshFailureRevoked, flows.RefreshFailureExpired:
		return ErrSessionRevoked
	case flows.RefreshFailureConflict, flows.RefreshFailureSuperseded:
		return ErrRotationConflict
	case flows.RefreshFailureReuse:
		return ErrReuseDetected
	default:
		return nil
	}
}

package flows

import (
	"context"
	"time"

	"github.com/MrEthical07/goSession/session"
)

// LoginFailureKind classifies login failures for root-level mapping.
type LoginFailureKind int

const (
	LoginFailureNone LoginFailureKind = iota
	LoginFailureCredentials
	LoginFailureLookup
	LoginFailureIssue
	LoginFailureStore
)

func (k LoginFailureKind) String() string {
	switch k {
	case LoginFailureNone:
		return "none"
	case LoginFailureCredentials:
		return "invalid_credentials"
	case LoginFailureLookup:
		return "user_lookup_failed"
	case LoginFailureIssue:
		return "issue_failed"
	case LoginFailureStore:
		return "store_unavailable"
	default:
		return "unknown"
	}
}

type LoginRequest struct {
	Identifier string
	Password   string
	DeviceInfo map[string]string
	IPAddress  string
}

type LoginResult struct {
	Failure      LoginFailureKind
	Err          error
	UserID       string
	SessionID    string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// RunLogin authenticates the user and opens a new session.
func RunLogin(ctx context.Context, req LoginRequest, deps LoginDeps) LoginResult {
	user, err := deps.LookupUser(ctx, req.Identifier)
	if err != nil {
		if deps.IsUserNotFound != nil && deps.IsUserNotFound(err) {
			if deps.DummyHash != "" {
				_, _ = deps.VerifyPassword(req.Password, deps.DummyHash)
			}
			return LoginResult{Failure: LoginFailureCredentials, Err: err}
		}
		return LoginResult{Failure: LoginFailureLookup, Err: err}
	}

	ok, err := deps.VerifyPassword(req.Password, user.PasswordHash)
	if err != nil || !ok {
		return LoginResult{Failure: LoginFailureCredentials, Err: err, UserID: user.UserID}
	}
	if user.Disabled {
		return LoginResult{Failure: LoginFailureCredentials, UserID: user.UserID}
	}

	refresh, err := deps.IssueRefresh(user.UserID)
	if err != nil {
		return LoginResult{Failure: LoginFailureIssue, Err: err, UserID: user.UserID}
	}

	created, err := deps.Sessions.CreateSession(ctx, session.CreateSessionInput{
		UserID:       user.UserID,
		RefreshToken: refresh,
		DeviceInfo:   req.DeviceInfo,
		IPAddress:    req.IPAddress,
		TTL:          deps.RefreshTTL,
	})
	if err != nil {
		kind := LoginFailureIssue
		if isStoreFailure(err) {
			kind = LoginFailureStore
		}
		return LoginResult{Failure: kind, Err: err, UserID: user.UserID}
	}

	access, err := deps.IssueAccess(user, created.SessionID)
	if err != nil {
		return LoginResult{Failure: LoginFailureIssue, Err: err, UserID: user.UserID, SessionID: created.SessionID}
	}

	if deps.Tokens != nil {
		if err := deps.Tokens.Register(ctx, user.UserID, refresh, deps.RefreshTTL); err != nil {
			warn(deps.Warn, "fallback token register failed", "user_id", user.UserID, "error", err)
		}
	}

	return LoginResult{
		UserID:       user.UserID,
		SessionID:    created.SessionID,
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    created.ExpiresAt,
	}
}

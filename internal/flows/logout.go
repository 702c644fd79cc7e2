package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/goSession/session"
)

// ErrNotSessionOwner is returned when a user addresses another user's session.
var ErrNotSessionOwner = errors.New("session belongs to another user")

type LogoutRequest struct {
	UserID       string
	SessionID    string
	RefreshToken string
}

// RunLogout revokes one session and drops the presented refresh token from
// the fallback registry. Unknown sessions are not an error.
func RunLogout(ctx context.Context, req LogoutRequest, deps LogoutDeps) error {
	if req.SessionID != "" {
		if err := RunRevokeSession(ctx, req.UserID, req.SessionID, session.ReasonLogout, deps); err != nil {
			if !errors.Is(err, session.ErrNotFound) {
				return err
			}
		}
	}
	if req.RefreshToken != "" && deps.Tokens != nil {
		if err := deps.Tokens.Revoke(ctx, req.UserID, req.RefreshToken); err != nil {
			return err
		}
	}
	return nil
}

// RunLogoutAll revokes every session of userID and clears its fallback tokens.
func RunLogoutAll(ctx context.Context, userID string, deps LogoutDeps) (int, error) {
	n, err := deps.Sessions.RevokeAll(ctx, userID, session.ReasonLogoutAll)
	if err != nil {
		return n, err
	}
	if deps.Tokens != nil {
		if err := deps.Tokens.RevokeAll(ctx, userID); err != nil {
			return n, err
		}
	}
	return n, nil
}

// RunRevokeSession revokes sessionID if it belongs to userID.
func RunRevokeSession(ctx context.Context, userID, sessionID, reason string, deps LogoutDeps) error {
	rec, err := deps.Sessions.FindByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if rec.UserID != userID {
		return ErrNotSessionOwner
	}
	return deps.Sessions.Revoke(ctx, sessionID, reason)
}

// RunListSessions returns userID's sessions, newest first.
func RunListSessions(ctx context.Context, userID string, deps LogoutDeps) ([]*session.Record, error) {
	return deps.Sessions.ListForUser(ctx, userID)
}

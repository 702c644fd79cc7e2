package flows

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/goSession/jwt"
	"github.com/MrEthical07/goSession/session"
	"github.com/MrEthical07/goSession/tokenstore"
)

// Sessions is the slice of session.Manager the flows depend on.
type Sessions interface {
	CreateSession(ctx context.Context, in session.CreateSessionInput) (session.Created, error)
	FindByID(ctx context.Context, sessionID string) (*session.Record, error)
	Rotate(ctx context.Context, in session.RotateInput) (session.RotateResult, error)
	PastGrace(lastRotated *time.Time, observedAt time.Time) bool
	RevokeForReuse(ctx context.Context, userID, sessionID string, meta map[string]string) (int, error)
	Revoke(ctx context.Context, sessionID, reason string) error
	RevokeAll(ctx context.Context, userID, reason string) (int, error)
	ListForUser(ctx context.Context, userID string) ([]*session.Record, error)
}

// FallbackTokens is the session-less refresh-token registry.
type FallbackTokens interface {
	Register(ctx context.Context, userID, raw string, ttl time.Duration) error
	Consume(ctx context.Context, userID, raw string) (bool, error)
	Revoke(ctx context.Context, userID, raw string) error
	RevokeAll(ctx context.Context, userID string) error
}

// LoginUser is the user projection needed to authenticate and mint claims.
type LoginUser struct {
	UserID       string
	Identifier   string
	Email        string
	Role         string
	PasswordHash string
	Disabled     bool
}

// Deps aggregates every flow dependency set.
type Deps struct {
	Login    LoginDeps
	Refresh  RefreshDeps
	Logout   LogoutDeps
	Validate ValidateDeps
}

type LoginDeps struct {
	LookupUser     func(ctx context.Context, identifier string) (LoginUser, error)
	IsUserNotFound func(error) bool
	VerifyPassword func(password, hash string) (bool, error)
	// DummyHash is verified when the identifier is unknown so that both
	// failure paths cost one password verification.
	DummyHash    string
	IssueRefresh func(userID string) (token string, err error)
	IssueAccess  func(user LoginUser, sessionID string) (string, error)
	RefreshTTL   time.Duration
	Sessions     Sessions
	Tokens       FallbackTokens
	Warn         func(msg string, fields ...any)
}

type RefreshDeps struct {
	Now          func() time.Time
	ParseRefresh func(token string) (*jwt.RefreshClaims, error)
	IssueRefresh func(userID string) (token string, err error)
	IssueAccess  func(ctx context.Context, userID, sessionID string) (string, error)
	RefreshTTL   time.Duration
	Sessions     Sessions
	Tokens       FallbackTokens
	// AllowSessionless enables refresh through Tokens when the client did not
	// send a session id.
	AllowSessionless bool
	Warn             func(msg string, fields ...any)
}

type LogoutDeps struct {
	Sessions Sessions
	Tokens   FallbackTokens
	Warn     func(msg string, fields ...any)
}

type ValidateDeps struct {
	ParseAccess func(token string) (*jwt.AccessClaims, error)
	Now         func() time.Time
	// Sessions is consulted only when RequireActiveSession is set.
	Sessions             Sessions
	RequireActiveSession bool
}

// isStoreFailure reports whether err came from an unavailable backend rather
// than from a rejected credential.
func isStoreFailure(err error) bool {
	return errors.Is(err, session.ErrStoreUnavailable) || errors.Is(err, tokenstore.ErrUnavailable)
}

func warn(fn func(string, ...any), msg string, fields ...any) {
	if fn != nil {
		fn(msg, fields...)
	}
}

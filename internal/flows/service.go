package flows

import (
	"context"

	"github.com/MrEthical07/goSession/session"
)

// Service is the centralized flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.Refresh.ParseRefresh != nil && s.deps.Refresh.Sessions != nil
}

func (s Service) Login(ctx context.Context, req LoginRequest) LoginResult {
	return RunLogin(ctx, req, s.deps.Login)
}

func (s Service) Refresh(ctx context.Context, req RefreshRequest) RefreshResult {
	return RunRefresh(ctx, req, s.deps.Refresh)
}

func (s Service) Validate(ctx context.Context, token string) ValidateResult {
	return RunValidate(ctx, token, s.deps.Validate)
}

func (s Service) Logout(ctx context.Context, req LogoutRequest) error {
	return RunLogout(ctx, req, s.deps.Logout)
}

func (s Service) LogoutAll(ctx context.Context, userID string) (int, error) {
	return RunLogoutAll(ctx, userID, s.deps.Logout)
}

func (s Service) RevokeSession(ctx context.Context, userID, sessionID, reason string) error {
	return RunRevokeSession(ctx, userID, sessionID, reason, s.deps.Logout)
}

func (s Service) ListSessions(ctx context.Context, userID string) ([]*session.Record, error) {
	return RunListSessions(ctx, userID, s.deps.Logout)
}

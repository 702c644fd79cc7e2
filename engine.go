package goSession

import (
	"context"
	"errors"
	"fmt"
	"time"

	internalaudit "github.com/MrEthical07/goSession/internal/audit"
	"github.com/MrEthical07/goSession/internal/flows"
	"github.com/MrEthical07/goSession/jwt"
	"github.com/MrEthical07/goSession/session"
	"github.com/MrEthical07/goSession/tokenstore"
	"go.uber.org/zap"
)

// Engine runs login, refresh and logout against a session store.
//
// Engine is safe for concurrent use after [Builder.Build]. Close flushes the
// audit dispatcher; stores and clients passed to the builder stay owned by
// the caller.
type Engine struct {
	config Config
	logger *zap.Logger
	now    func() time.Time

	store        session.Store
	sessions     *session.Manager
	tokens       *tokenstore.Registry
	jwtManager   *jwt.Manager
	userProvider UserProvider
	passwords    PasswordVerifier
	dummyHash    string

	audit   *internalaudit.Dispatcher
	metrics *Metrics
	flows   flows.Service
}

func (e *Engine) ready() bool {
	return e != nil && e.flows.Initialized()
}

// Close flushes pending audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// Ping checks the session store.
func (e *Engine) Ping(ctx context.Context) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if err := e.store.Ping(ctx); err != nil {
		return storeError(err)
	}
	return nil
}

// AuditDropped returns the number of routine audit events dropped under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the engine's counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// Login verifies credentials and opens a new session.
//
// Every failure attributable to the caller is reported as
// ErrInvalidCredentials. If the session cannot be stored, Login fails with
// ErrStoreUnavailable and no tokens are returned.
func (e *Engine) Login(ctx context.Context, in LoginInput) (*TokenPair, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	ip := in.IPAddress
	if ip == "" {
		ip = clientIPFromContext(ctx)
	}

	res := e.flows.Login(ctx, flows.LoginRequest{
		Identifier: in.Identifier,
		Password:   in.Password,
		DeviceInfo: in.DeviceInfo,
		IPAddress:  ip,
	})
	if res.Failure != flows.LoginFailureNone {
		err := e.loginError(res)
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, res.UserID, "", err, func() map[string]string {
			return map[string]string{"reason": res.Failure.String()}
		})
		return nil, err
	}

	e.metricInc(MetricLoginSuccess)
	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, auditEventLoginSuccess, true, res.UserID, res.SessionID, nil, nil)
	e.emitAudit(ctx, auditEventSessionCreated, true, res.UserID, res.SessionID, nil, nil)

	return &TokenPair{
		UserID:          res.UserID,
		SessionID:       res.SessionID,
		AccessToken:     res.AccessToken,
		RefreshToken:    res.RefreshToken,
		AccessExpiresAt: e.now().Add(e.config.JWT.AccessTTL),
	}, nil
}

func (e *Engine) loginError(res flows.LoginResult) error {
	switch res.Failure {
	case flows.LoginFailureCredentials:
		return ErrInvalidCredentials
	case flows.LoginFailureLookup, flows.LoginFailureStore:
		e.metricInc(MetricStoreUnavailable)
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, res.Err)
	default:
		e.logger.Error("login failed", zap.String("reason", res.Failure.String()), zap.Error(res.Err))
		return res.Err
	}
}

// Refresh exchanges a refresh token for a new pair.
//
// Rejections return a *RefreshError matching ErrRefreshInvalid; backend
// failures match ErrStoreUnavailable instead. A replayed refresh token revokes
// every session of its owner before Refresh returns.
func (e *Engine) Refresh(ctx context.Context, in RefreshInput) (*TokenPair, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	start := time.Now()
	ip := in.IPAddress
	if ip == "" {
		ip = clientIPFromContext(ctx)
	}

	res := e.flows.Refresh(ctx, flows.RefreshRequest{
		UserID:       in.UserID,
		RefreshToken: in.RefreshToken,
		SessionID:    in.SessionID,
		IPAddress:    ip,
		UserAgent:    in.UserAgent,
	})
	if e.metrics.LatencyEnabled() {
		e.metrics.Observe(MetricRefreshLatency, time.Since(start))
	}
	if res.Failure != flows.RefreshFailureNone {
		return nil, e.refreshFailed(ctx, res)
	}

	e.metricInc(MetricRefreshSuccess)
	if in.SessionID == "" {
		e.metricInc(MetricRefreshFallback)
	}
	e.emitAudit(ctx, auditEventRefreshSuccess, true, res.UserID, res.SessionID, nil, nil)

	return &TokenPair{
		UserID:          res.UserID,
		SessionID:       res.SessionID,
		AccessToken:     res.AccessToken,
		RefreshToken:    res.RefreshToken,
		AccessExpiresAt: e.now().Add(e.config.JWT.AccessTTL),
	}, nil
}

func (e *Engine) refreshFailed(ctx context.Context, res flows.RefreshResult) error {
	kind := res.Failure
	if kind == flows.RefreshFailureIssue && errors.Is(res.Err, ErrStoreUnavailable) {
		kind = flows.RefreshFailureStore
	}
	rerr := &RefreshError{Kind: kind, Cause: res.Err}

	e.metricInc(MetricRefreshFailure)
	switch kind {
	case flows.RefreshFailureReuse:
		e.metricInc(MetricRefreshReuseDetected)
		e.metricInc(MetricLogoutAll)
		// token_reuse_detected was already recorded by the session manager.
		return rerr
	case flows.RefreshFailureSuperseded:
		e.metricInc(MetricRefreshSuperseded)
	case flows.RefreshFailureStore:
		e.metricInc(MetricStoreUnavailable)
	case flows.RefreshFailureIssue:
		e.logger.Error("refresh token issuance failed", zap.String("user_id", res.UserID), zap.Error(res.Err))
	}

	e.emitAudit(ctx, auditEventRefreshFailure, false, res.UserID, res.SessionID, rerr, func() map[string]string {
		return map[string]string{"reason": kind.String()}
	})
	return rerr
}

// Logout revokes the given session and forgets the refresh token. Logging
// out of an unknown session succeeds.
func (e *Engine) Logout(ctx context.Context, in LogoutInput) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	err := e.flows.Logout(ctx, flows.LogoutRequest{
		UserID:       in.UserID,
		SessionID:    in.SessionID,
		RefreshToken: in.RefreshToken,
	})
	if err != nil {
		err = e.sessionError(err)
		e.emitAudit(ctx, auditEventLogout, false, in.UserID, in.SessionID, err, nil)
		return err
	}
	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, in.UserID, in.SessionID, nil, nil)
	return nil
}

// LogoutAll revokes every session of userID and returns how many were active.
func (e *Engine) LogoutAll(ctx context.Context, userID string) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	n, err := e.flows.LogoutAll(ctx, userID)
	if err != nil {
		err = e.sessionError(err)
		e.emitAudit(ctx, auditEventLogoutAll, false, userID, "", err, nil)
		return n, err
	}
	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, userID, "", nil, func() map[string]string {
		return map[string]string{"revoked_sessions": fmt.Sprint(n)}
	})
	return n, nil
}

// RevokeSession revokes one of userID's sessions. An empty reason defaults
// to "revoked".
func (e *Engine) RevokeSession(ctx context.Context, userID, sessionID, reason string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if reason == "" {
		reason = session.ReasonAdmin
	}
	if err := e.flows.RevokeSession(ctx, userID, sessionID, reason); err != nil {
		err = e.sessionError(err)
		e.emitAudit(ctx, auditEventSessionRevoked, false, userID, sessionID, err, nil)
		return err
	}
	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, auditEventSessionRevoked, true, userID, sessionID, nil, func() map[string]string {
		return map[string]string{"reason": reason}
	})
	return nil
}

// ListSessions returns userID's sessions, newest first, revoked ones included.
func (e *Engine) ListSessions(ctx context.Context, userID string) ([]SessionInfo, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	recs, err := e.flows.ListSessions(ctx, userID)
	if err != nil {
		return nil, e.sessionError(err)
	}
	now := e.now()
	out := make([]SessionInfo, 0, len(recs))
	for _, rec := range recs {
		out = append(out, SessionInfo{
			SessionID:     rec.ID,
			DeviceInfo:    rec.DeviceInfo,
			IPAddress:     rec.IPAddress,
			CreatedAt:     rec.CreatedAt,
			LastUsedAt:    rec.LastUsedAt,
			ExpiresAt:     rec.ExpiresAt,
			Active:        rec.Active(now),
			RevokedAt:     rec.RevokedAt,
			RevokedReason: rec.RevokedReason,
		})
	}
	return out, nil
}

// ValidateAccess verifies an access token and, when configured, that its
// session is still active.
func (e *Engine) ValidateAccess(ctx context.Context, token string) (*AccessClaims, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}
	res := e.flows.Validate(ctx, token)
	switch res.Failure {
	case flows.ValidateFailureNone:
		return res.Claims, nil
	case flows.ValidateFailureStore:
		return nil, storeError(res.Err)
	case flows.ValidateFailureToken:
		return nil, errors.Join(ErrUnauthorized, ErrInvalidToken)
	default:
		return nil, ErrUnauthorized
	}
}

func (e *Engine) sessionError(err error) error {
	switch {
	case errors.Is(err, flows.ErrNotSessionOwner):
		return ErrForbidden
	case errors.Is(err, session.ErrNotFound):
		return ErrSessionNotFound
	case isBackendFailure(err):
		e.metricInc(MetricStoreUnavailable)
		return storeError(err)
	default:
		return err
	}
}

func isBackendFailure(err error) bool {
	return errors.Is(err, session.ErrStoreUnavailable) || errors.Is(err, tokenstore.ErrUnavailable)
}

func storeError(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func (e *Engine) flowDeps() flows.Deps {
	warn := e.logger.Sugar().Warnw
	issueRefresh := func(userID string) (string, error) {
		tok, _, err := e.jwtManager.CreateRefresh(userID)
		return tok, err
	}

	return flows.Deps{
		Login: flows.LoginDeps{
			LookupUser: func(ctx context.Context, identifier string) (flows.LoginUser, error) {
				u, err := e.userProvider.GetUserByIdentifier(ctx, identifier)
				if err != nil {
					return flows.LoginUser{}, err
				}
				return loginUser(u), nil
			},
			IsUserNotFound: func(err error) bool { return errors.Is(err, ErrUserNotFound) },
			VerifyPassword: e.passwords.Verify,
			DummyHash:      e.dummyHash,
			IssueRefresh:   issueRefresh,
			IssueAccess: func(u flows.LoginUser, sessionID string) (string, error) {
				return e.jwtManager.CreateAccess(jwt.AccessInput{
					UserID:    u.UserID,
					SessionID: sessionID,
					Email:     u.Email,
					Role:      u.Role,
				})
			},
			RefreshTTL: e.config.JWT.RefreshTTL,
			Sessions:   e.sessions,
			Tokens:     e.tokens,
			Warn:       warn,
		},
		Refresh: flows.RefreshDeps{
			Now:              e.now,
			ParseRefresh:     e.jwtManager.ParseRefresh,
			IssueRefresh:     issueRefresh,
			IssueAccess:      e.issueAccessForUser,
			RefreshTTL:       e.config.JWT.RefreshTTL,
			Sessions:         e.sessions,
			Tokens:           e.tokens,
			AllowSessionless: e.config.Refresh.AllowSessionlessFallback,
			Warn:             warn,
		},
		Logout: flows.LogoutDeps{
			Sessions: e.sessions,
			Tokens:   e.tokens,
			Warn:     warn,
		},
		Validate: flows.ValidateDeps{
			ParseAccess:          e.jwtManager.ParseAccess,
			Now:                  e.now,
			Sessions:             e.sessions,
			RequireActiveSession: e.config.Validation.RequireActiveSession,
		},
	}
}

// issueAccessForUser reloads the user so that refreshed access tokens carry
// the current role and disabled accounts cannot refresh.
func (e *Engine) issueAccessForUser(ctx context.Context, userID, sessionID string) (string, error) {
	u, err := e.userProvider.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", err
		}
		return "", storeError(err)
	}
	if u.Disabled {
		return "", ErrInvalidCredentials
	}
	return e.jwtManager.CreateAccess(jwt.AccessInput{
		UserID:    u.UserID,
		SessionID: sessionID,
		Email:     u.Email,
		Role:      u.Role,
	})
}

func loginUser(u UserRecord) flows.LoginUser {
	return flows.LoginUser{
		UserID:       u.UserID,
		Identifier:   u.Identifier,
		Email:        u.Email,
		Role:         u.Role,
		PasswordHash: u.PasswordHash,
		Disabled:     u.Disabled,
	}
}

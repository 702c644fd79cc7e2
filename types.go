package goSession

import (
	"context"
	"io"
	"time"

	internalaudit "github.com/MrEthical07/goSession/internal/audit"
	internalmetrics "github.com/MrEthical07/goSession/internal/metrics"
	"github.com/MrEthical07/goSession/jwt"
	"go.uber.org/zap"
)

// UserProvider is the interface callers implement to integrate goSession with
// their user database. Unknown users must be reported as [ErrUserNotFound].
type UserProvider interface {
	GetUserByIdentifier(ctx context.Context, identifier string) (UserRecord, error)
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)
}

// UserRecord is the account projection returned by [UserProvider].
type UserRecord struct {
	UserID       string
	Identifier   string
	Email        string
	Role         string
	PasswordHash string
	Disabled     bool
}

// PasswordVerifier checks a password against an encoded hash.
// *password.Argon2 satisfies it.
type PasswordVerifier interface {
	Verify(password, encodedHash string) (bool, error)
}

// LoginInput is the request for [Engine.Login].
type LoginInput struct {
	Identifier string
	Password   string
	DeviceInfo map[string]string
	IPAddress  string
}

// RefreshInput is the request for [Engine.Refresh]. SessionID may be empty
// when session-less fallback is enabled.
type RefreshInput struct {
	UserID       string
	RefreshToken string
	SessionID    string
	IPAddress    string
	UserAgent    string
}

// LogoutInput is the request for [Engine.Logout].
type LogoutInput struct {
	UserID       string
	RefreshToken string
	SessionID    string
}

// TokenPair is the credential pair handed to a client.
type TokenPair struct {
	UserID       string
	SessionID    string
	AccessToken  string
	RefreshToken string
	// AccessExpiresAt is derived from the configured access TTL.
	AccessExpiresAt time.Time
}

// SessionInfo is the client-facing view of a session. Fingerprints are never exposed.
type SessionInfo struct {
	SessionID     string
	DeviceInfo    map[string]string
	IPAddress     string
	CreatedAt     time.Time
	LastUsedAt    *time.Time
	ExpiresAt     time.Time
	Active        bool
	RevokedAt     *time.Time
	RevokedReason string
}

// AccessClaims are the verified claims of an access token.
type AccessClaims = jwt.AccessClaims

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = internalaudit.Event

// AuditSink receives [AuditEvent] values.
type AuditSink = internalaudit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = internalaudit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = internalaudit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes JSON-encoded events to an
// [io.Writer].
type JSONWriterSink = internalaudit.JSONWriterSink

// ZapSink is an [AuditSink] that writes events through a zap logger.
type ZapSink = internalaudit.ZapSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return internalaudit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return internalaudit.NewJSONWriterSink(w)
}

// NewZapSink creates a [ZapSink].
func NewZapSink(logger *zap.Logger) *ZapSink {
	return internalaudit.NewZapSink(logger)
}

// MetricID identifies a counter or histogram in the in-process metrics system.
type MetricID = internalmetrics.MetricID

const (
	MetricLoginSuccess         = internalmetrics.MetricLoginSuccess
	MetricLoginFailure         = internalmetrics.MetricLoginFailure
	MetricRefreshSuccess       = internalmetrics.MetricRefreshSuccess
	MetricRefreshFailure       = internalmetrics.MetricRefreshFailure
	MetricRefreshReuseDetected = internalmetrics.MetricRefreshReuseDetected
	MetricRefreshSuperseded    = internalmetrics.MetricRefreshSuperseded
	MetricRefreshFallback      = internalmetrics.MetricRefreshFallback
	MetricStoreUnavailable     = internalmetrics.MetricStoreUnavailable
	MetricSessionCreated       = internalmetrics.MetricSessionCreated
	MetricSessionRevoked       = internalmetrics.MetricSessionRevoked
	MetricLogout               = internalmetrics.MetricLogout
	MetricLogoutAll            = internalmetrics.MetricLogoutAll
	MetricRefreshLatency       = internalmetrics.MetricRefreshLatency
)

// Metrics holds atomic counters and the optional refresh latency histogram.
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time copy of all metrics.
type MetricsSnapshot = internalmetrics.Snapshot

// NewMetrics creates a [Metrics] instance. When Enabled is false all
// operations are no-ops.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return internalmetrics.New(internalmetrics.Config{
		Enabled:                 cfg.Enabled,
		EnableLatencyHistograms: cfg.EnableLatencyHistograms,
	})
}

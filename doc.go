// Package goSession issues, rotates and revokes access/refresh token pairs and
// detects refresh-token theft through reuse detection.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// goSession is the public surface. It exposes [Engine], [Builder], [Config]
// and value types (TokenPair, SessionInfo, MetricsSnapshot). Request
// orchestration lives in internal/flows; persistence and rotation live in the
// session package; fingerprints in tokenhash.
//
// # Refresh errors
//
// Refresh reports every rejected credential as [ErrRefreshInvalid] so that
// clients cannot tell a replay from an expired session. Backend outages are
// reported as [ErrStoreUnavailable] instead. The precise classification is
// available through [RefreshError] for logs and metrics.
//
// # What this package must NOT do
//
//   - Expose Redis clients or SQL handles in its public API.
//   - Retry a failed rotation.
//   - Treat a lost concurrent rotation as token reuse.
package goSession

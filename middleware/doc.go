// Package middleware exposes a net/http guard built on
// goSession.Engine.ValidateAccess.
//
// [Guard] reads the Authorization header, validates the bearer access token,
// and injects the verified claims into the request context. When the engine is
// configured to require an active session, revoked sessions are rejected too.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly (delegates to Engine).
//   - Access stores directly.
//   - Make authorization decisions beyond pass/reject.
package middleware

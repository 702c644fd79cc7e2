// Package session persists refresh-token sessions and implements rotation with
// reuse detection.
//
// # Store backends
//
// [Store] is implemented by [MemoryStore], [RedisStore] (hash + user index set,
// mutated by Lua scripts) and [SQLStore] (postgres, mysql or sqlite through
// sqlx). Every backend performs Rotate as one atomic compare-and-swap: the
// current fingerprint moves to previous only when the caller presented it, the
// session is not revoked and not expired.
//
// # Reuse detection
//
// [Manager.Rotate] treats a rejected rotation as token reuse only when the
// presented token is the stored previous token and it was superseded before
// the request began. Reuse revokes every session of the owner and emits a
// token_reuse_detected audit event before returning. A request that merely
// lost a concurrent rotation is rejected without side effects.
//
// # What this package must NOT do
//
//   - Import goSession or jwt (no upward imports).
//   - Store raw refresh tokens.
//   - Retry a failed rotation internally.
package session

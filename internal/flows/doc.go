// Package flows contains pure-function orchestrators for every Engine operation.
//
// Each flow function (RunLogin, RunRefresh, RunLogout, RunValidate, ...)
// accepts a typed dependency struct and returns a result carrying a failure
// kind. The Engine maps kinds onto its public errors, metrics and audit events.
//
// # Refresh ordering
//
// RunRefresh signs the new pair first, then lets the session store's
// compare-and-swap decide, and only after a successful swap touches the
// fallback token registry. A lost swap therefore leaves no trace outside the
// session store.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import goSession (to avoid import cycles).
//   - Emit routine audit events or metrics; that stays with the Engine.
package flows

// Package internal holds goSession's private packages.
//
// # Sub-packages
//
//   - audit: event types, sinks, and the async Dispatcher
//   - flows: request-level flow functions behind every Engine operation
//   - metrics: lock-free counters and the refresh latency histogram
//   - config, logger: process configuration and zap setup for cmd/gosession
//   - migrate: embedded SQL migrations (golang-migrate)
//   - users: memory and SQL user providers
//   - rate: Redis fixed-window throttling for the HTTP endpoints
//   - httpapi: gin adapter over the Engine
package internal

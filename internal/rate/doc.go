// Package rate holds the Redis fixed-window counters that throttle the HTTP
// login and refresh endpoints.
//
// # What this package must NOT do
//
//   - Decide authentication outcomes; callers map ErrRateLimited to a response.
//   - Fall back to allowing requests silently; Redis errors are returned.
package rate

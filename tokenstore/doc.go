// Package tokenstore tracks which raw refresh tokens a user still holds, by
// fingerprint, for refresh requests that carry no session id.
//
// This path has no reuse detection. It exists for clients issued tokens before
// sessions were introduced and can be disabled.
package tokenstore

// Package jwt issues and verifies access and refresh tokens.
//
// Access tokens are signed with HS256 or Ed25519 and may rotate verification
// keys by kid. Refresh tokens are HS256 under a dedicated secret, carry a
// "use":"refresh" claim, the user id as subject and a fresh UUID jti on every
// issuance. [TokenID] extracts that jti without verification for callers that
// only need a best-effort identifier.
package jwt

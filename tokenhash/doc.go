// Package tokenhash derives keyed fingerprints of refresh tokens.
//
// A fingerprint is the hex-encoded HMAC-SHA256 of the raw token under a secret
// key. Only fingerprints are persisted; raw refresh tokens never reach a store.
//
// # Key list
//
// A [KeyProvider] supplies an ordered list of keys. The first entry is the
// primary key and is the only key used to produce fingerprints that get written.
// Remaining entries are legacy keys: [Hasher.Candidates] and [Hasher.Match] also
// evaluate them so tokens issued before a key rotation keep verifying until the
// session next rotates and is re-fingerprinted under the primary key.
//
// An empty key list is a fatal configuration error ([ErrNoKeys]). A list whose
// primary key is the empty string is accepted but reported by [Hasher.Degraded].
//
// # What this package must NOT do
//
//   - Persist or log raw tokens or keys.
//   - Import any other goSession package.
package tokenhash

package tokenhash

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
)

// ErrNoKeys is returned when the key provider yields an empty list.
var ErrNoKeys = errors.New("tokenhash: no hmac keys configured")

// Hasher computes refresh-token fingerprints. It is safe for concurrent use;
// the key list is read from the provider on every call so a provider may
// rotate keys at runtime.
type Hasher struct {
	keys KeyProvider
}

// New returns a Hasher backed by keys.
func New(keys KeyProvider) *Hasher {
	return &Hasher{keys: keys}
}

// Hash returns the fingerprint of raw under the primary key.
func (h *Hasher) Hash(raw string) (string, error) {
	keys, err := h.keyList()
	if err != nil {
		return "", err
	}
	return fingerprint(keys[0], raw), nil
}

// Candidates returns the fingerprint of raw under every configured key,
// primary first.
func (h *Hasher) Candidates(raw string) ([]string, error) {
	keys, err := h.keyList()
	if err != nil {
		return nil, err
	}
	out := make([]string, len(keys))
	for i, key := range keys {
		out[i] = fingerprint(key, raw)
	}
	return out, nil
}

// Match reports whether fp is the fingerprint of raw under any configured key
// and, if so, the index of the matching key. Every key is evaluated so the
// timing does not depend on which key matched.
func (h *Hasher) Match(raw, fp string) (int, bool) {
	if fp == "" {
		return -1, false
	}
	candidates, err := h.Candidates(raw)
	if err != nil {
		return -1, false
	}
	found := -1
	for i, candidate := range candidates {
		if Equal(candidate, fp) && found < 0 {
			found = i
		}
	}
	return found, found >= 0
}

// Degraded reports whether the primary key is empty.
func (h *Hasher) Degraded() bool {
	keys, err := h.keyList()
	return err == nil && keys[0] == ""
}

// Equal compares two fingerprints in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (h *Hasher) keyList() ([]string, error) {
	if h == nil || h.keys == nil {
		return nil, ErrNoKeys
	}
	keys := h.keys.Keys()
	if len(keys) == 0 {
		return nil, ErrNoKeys
	}
	return keys, nil
}

func fingerprint(key, raw string) string {
	mac := hmac.New(sha256.New, []byte(key))
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}

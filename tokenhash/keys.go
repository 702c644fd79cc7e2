package tokenhash

import "strings"

// KeyProvider returns the ordered HMAC key list, primary key first.
type KeyProvider interface {
	Keys() []string
}

// StaticKeys is a fixed key list.
type StaticKeys []string

// Keys returns a copy of the list.
func (k StaticKeys) Keys() []string {
	out := make([]string, len(k))
	copy(out, k)
	return out
}

// ParseKeyList builds a key list from a comma-separated value, falling back to
// a single key value. When both are blank the result is a one-element list
// holding the empty key, which hashes in degraded mode rather than failing.
func ParseKeyList(list, single string) []string {
	keys := make([]string, 0, 4)
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			keys = append(keys, part)
		}
	}
	if len(keys) > 0 {
		return keys
	}
	if single = strings.TrimSpace(single); single != "" {
		return []string{single}
	}
	return []string{""}
}

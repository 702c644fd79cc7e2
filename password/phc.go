package password

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const algorithmID = "argon2id"

// phc is a decoded $argon2id$v=19$m=..,t=..,p=..$salt$hash string.
type phc struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
}

func (p phc) String() string {
	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		p.memory,
		p.time,
		p.parallelism,
		base64.StdEncoding.EncodeToString(p.salt),
		base64.StdEncoding.EncodeToString(p.hash),
	)
}

func invalidHash(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidHash, reason)
}

func parsePHC(encoded string) (phc, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return phc{}, invalidHash("format")
	}
	if parts[1] != algorithmID {
		return phc{}, invalidHash("unsupported algorithm")
	}

	version, ok := strings.CutPrefix(parts[2], "v=")
	if !ok {
		return phc{}, invalidHash("missing version")
	}
	if v, err := strconv.Atoi(version); err != nil || v != argon2.Version {
		return phc{}, invalidHash("unsupported version")
	}

	p, err := parseParams(parts[3])
	if err != nil {
		return phc{}, err
	}

	if p.salt, err = base64.StdEncoding.DecodeString(parts[4]); err != nil || len(p.salt) < int(minSaltLength) {
		return phc{}, invalidHash("salt")
	}
	if p.hash, err = base64.StdEncoding.DecodeString(parts[5]); err != nil || len(p.hash) == 0 {
		return phc{}, invalidHash("hash")
	}
	return p, nil
}

func parseParams(part string) (phc, error) {
	var (
		p    phc
		seen = map[string]bool{}
	)

	pairs := strings.Split(part, ",")
	if len(pairs) != 3 {
		return phc{}, invalidHash("parameter count")
	}
	for _, pair := range pairs {
		key, val, ok := strings.Cut(pair, "=")
		if !ok || seen[key] {
			return phc{}, invalidHash("parameter entry")
		}
		seen[key] = true

		switch key {
		case "m":
			v, err := strconv.ParseUint(val, 10, 32)
			if err != nil || v < uint64(minMemoryKB) {
				return phc{}, invalidHash("memory")
			}
			p.memory = uint32(v)
		case "t":
			v, err := strconv.ParseUint(val, 10, 32)
			if err != nil || v < uint64(minTimeCost) {
				return phc{}, invalidHash("time")
			}
			p.time = uint32(v)
		case "p":
			v, err := strconv.ParseUint(val, 10, 8)
			if err != nil || v < uint64(minParallelism) {
				return phc{}, invalidHash("parallelism")
			}
			p.parallelism = uint8(v)
		default:
			return phc{}, invalidHash("unsupported parameter")
		}
	}
	return p, nil
}

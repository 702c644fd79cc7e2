package jwt

import (
	"errors"

	"github.com/golang-jwt/jwt/v5"
)

// TokenErrorKind classifies a verification failure.
type TokenErrorKind int

const (
	KindMalformed TokenErrorKind = iota + 1
	KindExpired
	KindSignature
	KindClaims
)

func (k TokenErrorKind) String() string {
	switch k {
	case KindMalformed:
		return "malformed"
	case KindExpired:
		return "expired"
	case KindSignature:
		return "signature"
	case KindClaims:
		return "claims"
	default:
		return "unknown"
	}
}

// TokenError is returned by ParseAccess and ParseRefresh.
type TokenError struct {
	Kind TokenErrorKind
	Err  error
}

func (e *TokenError) Error() string {
	return "token " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *TokenError) Unwrap() error {
	return e.Err
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return &TokenError{Kind: KindExpired, Err: err}
	case errors.Is(err, jwt.ErrTokenMalformed):
		return &TokenError{Kind: KindMalformed, Err: err}
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return &TokenError{Kind: KindSignature, Err: err}
	default:
		return &TokenError{Kind: KindClaims, Err: err}
	}
}

package flows

import (
	"context"
	"errors"

	"github.com/MrEthical07/goSession/jwt"
	"github.com/MrEthical07/goSession/session"
)

// ValidateFailureKind classifies access-token validation failures.
type ValidateFailureKind int

const (
	ValidateFailureNone ValidateFailureKind = iota
	ValidateFailureToken
	ValidateFailureSessionNotFound
	ValidateFailureSessionInactive
	ValidateFailureStore
)

// ValidateResult returns either the verified claims or a classified failure.
type ValidateResult struct {
	Failure ValidateFailureKind
	Err     error
	Claims  *jwt.AccessClaims
}

// RunValidate verifies an access token. With RequireActiveSession the token's
// session must also still be active.
func RunValidate(ctx context.Context, token string, deps ValidateDeps) ValidateResult {
	claims, err := deps.ParseAccess(token)
	if err != nil {
		return ValidateResult{Failure: ValidateFailureToken, Err: err}
	}
	if !deps.RequireActiveSession || deps.Sessions == nil {
		return ValidateResult{Claims: claims}
	}
	if claims.SID == "" {
		return ValidateResult{Failure: ValidateFailureSessionNotFound}
	}

	rec, err := deps.Sessions.FindByID(ctx, claims.SID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return ValidateResult{Failure: ValidateFailureSessionNotFound, Err: err}
		}
		return ValidateResult{Failure: ValidateFailureStore, Err: err}
	}
	if rec.UserID != claims.UID || !rec.Active(deps.Now()) {
		return ValidateResult{Failure: ValidateFailureSessionInactive}
	}
	return ValidateResult{Claims: claims}
}

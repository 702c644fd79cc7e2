package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	goSession "github.com/MrEthical07/goSession"
)

type claimsContextKey struct{}

// ClaimsFromContext returns the claims injected by [Guard].
func ClaimsFromContext(ctx context.Context) (*goSession.AccessClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*goSession.AccessClaims)
	return claims, ok
}

// WithClaims stores claims the way [Guard] does, for adapters that do their
// own routing.
func WithClaims(ctx context.Context, claims *goSession.AccessClaims) context.Context {
	return context.WithValue(ctx, claimsContextKey{}, claims)
}

// Authenticate validates the Authorization header value and returns the claims
// or the HTTP status to reject with: 503 for backend outages, 401 otherwise.
func Authenticate(ctx context.Context, engine *goSession.Engine, header string) (*goSession.AccessClaims, int) {
	if engine == nil {
		return nil, http.StatusUnauthorized
	}

	token, ok := bearerToken(header)
	if !ok {
		return nil, http.StatusUnauthorized
	}

	claims, err := engine.ValidateAccess(ctx, token)
	if err != nil {
		if errors.Is(err, goSession.ErrStoreUnavailable) {
			return nil, http.StatusServiceUnavailable
		}
		return nil, http.StatusUnauthorized
	}
	return claims, http.StatusOK
}

// Guard rejects requests without a valid bearer access token and injects the
// verified claims into the request context.
func Guard(engine *goSession.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, status := Authenticate(r.Context(), engine, r.Header.Get("Authorization"))
			if status != http.StatusOK {
				http.Error(w, strings.ToLower(http.StatusText(status)), status)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), claims)))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}

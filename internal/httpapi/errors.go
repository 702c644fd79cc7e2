package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/internal/rate"
)

// Error codes returned in the response body.
const (
	codeBadRequest         = "bad_request"
	codeInvalidCredentials = "invalid_credentials"
	codeRefreshInvalid     = "refresh_invalid"
	codeUnauthorized       = "unauthorized"
	codeForbidden          = "forbidden"
	codeNotFound           = "not_found"
	codeRateLimited        = "rate_limited"
	codeUnavailable        = "unavailable"
	codeInternal           = "internal_error"
)

type errorResponse struct {
	Error string `json:"error"`
}

func abort(c *gin.Context, status int, code string) {
	c.AbortWithStatusJSON(status, errorResponse{Error: code})
}

// writeError maps engine errors to responses. Refresh rejections share one
// code whatever the cause; backend outages are 503 so clients retry instead
// of discarding their tokens.
func (h *handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, goSession.ErrStoreUnavailable):
		h.logger.Error("backend unavailable", zap.Error(err))
		abort(c, http.StatusServiceUnavailable, codeUnavailable)
	case errors.Is(err, goSession.ErrRefreshInvalid):
		abort(c, http.StatusUnauthorized, codeRefreshInvalid)
	case errors.Is(err, goSession.ErrInvalidCredentials):
		abort(c, http.StatusUnauthorized, codeInvalidCredentials)
	case errors.Is(err, goSession.ErrUnauthorized):
		abort(c, http.StatusUnauthorized, codeUnauthorized)
	case errors.Is(err, goSession.ErrForbidden):
		abort(c, http.StatusForbidden, codeForbidden)
	case errors.Is(err, goSession.ErrSessionNotFound):
		abort(c, http.StatusNotFound, codeNotFound)
	case errors.Is(err, goSession.ErrEngineNotReady):
		abort(c, http.StatusServiceUnavailable, codeUnavailable)
	default:
		_ = c.Error(err)
		h.logger.Error("request failed", zap.Error(err))
		abort(c, http.StatusInternalServerError, codeInternal)
	}
}

func (h *handler) rateLimitError(c *gin.Context, err error) {
	if errors.Is(err, rate.ErrRateLimited) {
		abort(c, http.StatusTooManyRequests, codeRateLimited)
		return
	}
	h.logger.Error("rate limiter unavailable", zap.Error(err))
	abort(c, http.StatusServiceUnavailable, codeUnavailable)
}

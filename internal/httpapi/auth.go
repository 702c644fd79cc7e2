package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/middleware"
)

const claimsKey = "claims"

// requireAuth validates the bearer token with the net/http guard's logic.
func requireAuth(engine *goSession.Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, status := middleware.Authenticate(c.Request.Context(), engine, c.GetHeader("Authorization"))
		if status != http.StatusOK {
			code := codeUnauthorized
			if status == http.StatusServiceUnavailable {
				code = codeUnavailable
			}
			abort(c, status, code)
			return
		}
		c.Set(claimsKey, claims)
		c.Request = c.Request.WithContext(middleware.WithClaims(c.Request.Context(), claims))
		c.Next()
	}
}

func claimsFrom(c *gin.Context) *goSession.AccessClaims {
	claims, _ := c.MustGet(claimsKey).(*goSession.AccessClaims)
	return claims
}

type loginRequest struct {
	Identifier string            `json:"identifier" binding:"required"`
	Password   string            `json:"password" binding:"required"`
	DeviceInfo map[string]string `json:"device_info"`
}

type refreshRequest struct {
	UserID       string `json:"user_id" binding:"required"`
	RefreshToken string `json:"refresh_token" binding:"required"`
	SessionID    string `json:"session_id"`
}

type logoutRequest struct {
	SessionID    string `json:"session_id"`
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	UserID          string `json:"user_id"`
	SessionID       string `json:"session_id,omitempty"`
	AccessToken     string `json:"access_token"`
	RefreshToken    string `json:"refresh_token"`
	TokenType       string `json:"token_type"`
	AccessExpiresAt int64  `json:"access_expires_at"`
}

func newTokenResponse(p *goSession.TokenPair) tokenResponse {
	return tokenResponse{
		UserID:          p.UserID,
		SessionID:       p.SessionID,
		AccessToken:     p.AccessToken,
		RefreshToken:    p.RefreshToken,
		TokenType:       "Bearer",
		AccessExpiresAt: p.AccessExpiresAt.Unix(),
	}
}

func (h *handler) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, codeBadRequest)
		return
	}
	ctx := c.Request.Context()

	if h.limiter != nil {
		if err := h.limiter.CheckLogin(ctx, req.Identifier, c.ClientIP()); err != nil {
			h.rateLimitError(c, err)
			return
		}
	}

	pair, err := h.engine.Login(ctx, goSession.LoginInput{
		Identifier: req.Identifier,
		Password:   req.Password,
		DeviceInfo: req.DeviceInfo,
		IPAddress:  c.ClientIP(),
	})
	if err != nil {
		if h.limiter != nil && errors.Is(err, goSession.ErrInvalidCredentials) {
			if lerr := h.limiter.FailLogin(ctx, req.Identifier, c.ClientIP()); lerr != nil {
				h.logger.Warn("record failed login", zap.Error(lerr))
			}
		}
		h.writeError(c, err)
		return
	}

	if h.limiter != nil {
		if err := h.limiter.ResetLogin(ctx, req.Identifier); err != nil {
			h.logger.Warn("reset login limiter", zap.Error(err))
		}
	}
	c.JSON(http.StatusOK, newTokenResponse(pair))
}

func (h *handler) refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, codeBadRequest)
		return
	}
	ctx := c.Request.Context()

	if h.limiter != nil {
		key := req.SessionID
		if key == "" {
			key = "ip:" + c.ClientIP()
		}
		if err := h.limiter.AllowRefresh(ctx, key); err != nil {
			h.rateLimitError(c, err)
			return
		}
	}

	pair, err := h.engine.Refresh(ctx, goSession.RefreshInput{
		UserID:       req.UserID,
		RefreshToken: req.RefreshToken,
		SessionID:    req.SessionID,
		IPAddress:    c.ClientIP(),
		UserAgent:    c.Request.UserAgent(),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, newTokenResponse(pair))
}

func (h *handler) logout(c *gin.Context) {
	var req logoutRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abort(c, http.StatusBadRequest, codeBadRequest)
			return
		}
	}
	claims := claimsFrom(c)
	if req.SessionID == "" {
		req.SessionID = claims.SID
	}

	err := h.engine.Logout(c.Request.Context(), goSession.LogoutInput{
		UserID:       claims.UID,
		SessionID:    req.SessionID,
		RefreshToken: req.RefreshToken,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handler) logoutAll(c *gin.Context) {
	n, err := h.engine.LogoutAll(c.Request.Context(), claimsFrom(c).UID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": n})
}

package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	goSession "github.com/MrEthical07/goSession"
)

type sessionResponse struct {
	SessionID     string            `json:"session_id"`
	Current       bool              `json:"current"`
	DeviceInfo    map[string]string `json:"device_info,omitempty"`
	IPAddress     string            `json:"ip_address,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	LastUsedAt    *time.Time        `json:"last_used_at,omitempty"`
	ExpiresAt     time.Time         `json:"expires_at"`
	Active        bool              `json:"active"`
	RevokedAt     *time.Time        `json:"revoked_at,omitempty"`
	RevokedReason string            `json:"revoked_reason,omitempty"`
}

func newSessionResponse(s goSession.SessionInfo, currentSID string) sessionResponse {
	return sessionResponse{
		SessionID:     s.SessionID,
		Current:       s.SessionID == currentSID,
		DeviceInfo:    s.DeviceInfo,
		IPAddress:     s.IPAddress,
		CreatedAt:     s.CreatedAt,
		LastUsedAt:    s.LastUsedAt,
		ExpiresAt:     s.ExpiresAt,
		Active:        s.Active,
		RevokedAt:     s.RevokedAt,
		RevokedReason: s.RevokedReason,
	}
}

func (h *handler) listSessions(c *gin.Context) {
	claims := claimsFrom(c)
	list, err := h.engine.ListSessions(c.Request.Context(), claims.UID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	out := make([]sessionResponse, 0, len(list))
	for _, s := range list {
		out = append(out, newSessionResponse(s, claims.SID))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

func (h *handler) revokeSession(c *gin.Context) {
	claims := claimsFrom(c)
	if err := h.engine.RevokeSession(c.Request.Context(), claims.UID, c.Param("id"), ""); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

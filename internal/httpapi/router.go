// Package httpapi exposes the engine over HTTP with gin. It is a thin adapter:
// every decision is made by goSession.Engine.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/internal/logger"
	"github.com/MrEthical07/goSession/internal/rate"
)

// Options configures the router.
type Options struct {
	Engine *goSession.Engine
	Logger *zap.Logger
	// Limiter throttles login and refresh. Nil disables throttling.
	Limiter *rate.Limiter
	// Metrics serves /metrics when set.
	Metrics http.Handler
}

type handler struct {
	engine  *goSession.Engine
	logger  *zap.Logger
	limiter *rate.Limiter
}

// NewRouter builds the gin engine with every route mounted.
func NewRouter(opts Options) *gin.Engine {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	h := &handler{engine: opts.Engine, logger: log, limiter: opts.Limiter}

	r := gin.New()
	r.Use(gin.Recovery(), logger.GinMiddleware(log), requestContext())

	r.GET("/healthz", h.health)
	if opts.Metrics != nil {
		r.GET("/metrics", gin.WrapH(opts.Metrics))
	}

	v1 := r.Group("/v1")
	auth := v1.Group("/auth")
	auth.POST("/login", h.login)
	auth.POST("/refresh", h.refresh)

	authed := v1.Group("", requireAuth(opts.Engine))
	authed.POST("/auth/logout", h.logout)
	authed.POST("/auth/logout-all", h.logoutAll)
	authed.GET("/sessions", h.listSessions)
	authed.DELETE("/sessions/:id", h.revokeSession)

	return r
}

// requestContext hands the client address and user agent to the engine for
// session metadata and audit events.
func requestContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := goSession.WithClientIP(c.Request.Context(), c.ClientIP())
		ctx = goSession.WithUserAgent(ctx, c.Request.UserAgent())
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (h *handler) health(c *gin.Context) {
	if err := h.engine.Ping(c.Request.Context()); err != nil {
		h.logger.Error("health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

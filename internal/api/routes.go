package api

import (
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/rawblock/obfpool-coordinator/internal/config"
	"github.com/rawblock/obfpool-coordinator/internal/coordinator"
)

// APIHandler wires together the one active Coordinator, its websocket Hub,
// and the WireHandler that decodes inbound wire messages onto it.
type APIHandler struct {
	coord   *coordinator.Coordinator
	hub     *Hub
	handler *WireHandler
}

// NewAPIHandler wires a Hub's InboundHandler to coord and returns the
// combined handler SetupRouter needs.
func NewAPIHandler(coord *coordinator.Coordinator, hub *Hub, collateral CollateralChecker, network config.Network) *APIHandler {
	h := NewWireHandler(coord, hub, collateral, network)
	hub.SetHandler(h)
	return &APIHandler{coord: coord, hub: hub, handler: h}
}

// SetupRouter builds the gin engine: a public websocket stream plus a
// bearer-token-protected, rate-limited status/admin surface.
func SetupRouter(a *APIHandler) *gin.Engine {
	r := gin.Default()

	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	limiter := NewRateLimiter(60, 20)

	public := r.Group("/")
	{
		public.GET("/ws", a.hub.Subscribe)
		public.GET("/api/v1/health", a.handleHealth)
	}

	protected := r.Group("/api/v1/pool")
	protected.Use(limiter.Middleware(), AuthMiddleware())
	{
		protected.GET("/status", a.handleStatus)
		protected.POST("/reset", a.handleForceReset)
	}

	if dir := os.Getenv("DASHBOARD_DIR"); dir != "" {
		r.Static("/dashboard", dir)
	}

	return r
}

// handleHealth reports whether this process is alive at all, independent
// of whether a round is in progress.
func (a *APIHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleStatus reports the current session's phase, entry count, and
// last status message — the same information "dssu" broadcasts, exposed
// over plain HTTP for dashboards and ops tooling.
func (a *APIHandler) handleStatus(c *gin.Context) {
	sess := a.coord.Session()
	c.JSON(http.StatusOK, gin.H{
		"session_id":    sess.ID,
		"denom":         sess.Denom,
		"state":         sess.State.String(),
		"entries_count": len(sess.Entries),
		"user_count":    sess.UserCount,
		"last_message":  sess.LastMessage,
	})
}

// handleForceReset tears down the current round unconditionally — an
// operator escape hatch for a session stuck past every other recovery path
// (CheckTimeout, the Error/Success display window).
func (a *APIHandler) handleForceReset(c *gin.Context) {
	a.coord.Session().Reset(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"reset": true})
}

package main

import (
	"database/sql"
	"time"

	"webphone-platform/internal/credential"
	"webphone-platform/internal/httpapi"
	"webphone-platform/internal/realtime"
	"webphone-platform/pkg/utils"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers delegate to internal modules.
func registerRoutes(r *gin.Engine, h *httpapi.Handlers, hub *realtime.Hub, issuer *credential.Issuer, authMW gin.HandlerFunc, db *sql.DB) {
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), db, 2*time.Second); err != nil {
			c.JSON(503, gin.H{"status": "degraded"})
			return
		}
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Provider webhooks (public). These should additionally be protected by
	// provider signature validation at the edge.
	r.POST("/calls/status-callback", h.StatusCallback)
	r.POST("/calls/voice", h.OutboundVoice)
	r.POST("/calls/inbound-voice", h.InboundVoice)

	// Realtime channel; the handshake validates a session credential rather
	// than an API access token so the browser client can reuse its calling
	// credential.
	r.GET("/realtime", realtime.Handler(hub, issuer.Validate))

	// Authenticated API.
	api := r.Group("/")
	api.Use(authMW)
	{
		api.POST("/session/credential", h.IssueCredential)

		api.POST("/calls/place", h.PlaceCall)
		api.POST("/calls/accept-queued", h.AcceptQueued)
		api.POST("/calls/client-save", h.ClientSave)
		api.GET("/calls/history", h.ListHistory)
		api.GET("/calls/summary", h.CallsSummary)

		api.GET("/balance", h.GetBalance)
		api.POST("/balance/topup", h.TopUp)

		api.GET("/audit/events", h.ListAuditEvents)
	}
}

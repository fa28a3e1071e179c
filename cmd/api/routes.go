package main

import (
	"dialer-platform/internal/audit"
	"dialer-platform/internal/auth"
	"dialer-platform/internal/broadcast"
	"dialer-platform/internal/httpapi"
	"dialer-platform/internal/pacing"
	"dialer-platform/internal/queue"
	"dialer-platform/internal/rbac"
	"dialer-platform/internal/readiness"
	"dialer-platform/internal/telephony"

	"github.com/gin-gonic/gin"
)

type routeDeps struct {
	auth        *auth.Manager
	queue       *queue.Service
	broadcasts  *broadcast.Service
	bcRepo      broadcast.Repository
	items       queue.Repository
	stats       pacing.StatsRepository
	statsWindow int
	readiness   *readiness.Checker
	audit       *audit.Service
	webhooks    *telephony.WebhookHandler
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, deps routeDeps) {
	h := httpapi.Handlers{
		Auth:          deps.auth,
		Queue:         deps.queue,
		Broadcasts:    deps.broadcasts,
		BroadcastRepo: deps.bcRepo,
		ItemRepo:      deps.items,
		Stats:         deps.stats,
		StatsWindow:   deps.statsWindow,
		Readiness:     deps.readiness,
		Audit:         deps.audit,
	}

	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Provider status callbacks (public, signature-checked in the handler).
	r.POST("/webhooks/telephony/status", deps.webhooks.Status)

	r.POST("/v1/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAccessToken(deps.auth))
	v1.Use(rbac.RequireTenant())
	{
		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			tid, _ := auth.TenantID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(200, gin.H{"user_id": uid, "tenant_id": tid, "role": role})
		})

		broadcasts := v1.Group("/broadcasts/:broadcast_id")
		{
			// Read surface for operators and analysts.
			read := broadcasts.Group("")
			read.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleOperator, rbac.RoleAnalyst, rbac.RoleSuperAdmin))
			{
				read.GET("/queue/summary", h.QueueSummary)
				read.GET("/readiness", h.ReadinessReport)
				read.GET("/pacing", h.PacingSnapshot)
			}

			// Mutating surface: operators and above only.
			ops := broadcasts.Group("")
			ops.Use(rbac.RequireAnyRole(rbac.RoleOwner, rbac.RoleOperator, rbac.RoleSuperAdmin))
			{
				ops.POST("/queue", h.Enqueue)
				ops.POST("/queue/retry", h.RetryFailed)
				ops.DELETE("/queue", h.ClearPending)
				ops.POST("/start", h.StartBroadcast)
				ops.POST("/stop", h.StopBroadcast)
			}
		}
	}
}

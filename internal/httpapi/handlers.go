package httpapi

import (
	"errors"
	"net/http"
	"time"

	"dialer-platform/internal/audit"
	"dialer-platform/internal/auth"
	"dialer-platform/internal/broadcast"
	"dialer-platform/internal/pacing"
	"dialer-platform/internal/queue"
	"dialer-platform/internal/rbac"
	"dialer-platform/internal/readiness"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth       *auth.Manager
	Queue      *queue.Service
	Broadcasts *broadcast.Service

	// Pacing snapshot dependencies.
	BroadcastRepo broadcast.Repository
	ItemRepo      queue.Repository
	Stats         pacing.StatsRepository
	StatsWindow   int

	Readiness *readiness.Checker
	Audit     *audit.Service
}

// --- Auth ---

type loginRequest struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Role     string `json:"role"`
}

// Login issues a JWT token pair.
//
// NOTE: This is a skeleton-only endpoint. Real systems must validate credentials.
func (h Handlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || req.TenantID == "" || req.Role == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id, tenant_id, role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.TenantID, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// --- Queue ---

type enqueueRequest struct {
	Candidates []queue.Candidate `json:"candidates"`
}

// Enqueue admits a batch of candidates into a broadcast's queue. Invalid
// numbers, duplicates and DNC matches come back as counts, never errors.
func (h Handlers) Enqueue(c *gin.Context) {
	tenantID, broadcastID, ok := h.tenantBroadcast(c)
	if !ok {
		return
	}
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if len(req.Candidates) == 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "candidates required"})
		return
	}

	res, err := h.Queue.Enqueue(c.Request.Context(), tenantID, broadcastID, req.Candidates)
	if err != nil {
		if errors.Is(err, broadcast.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "broadcast not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "enqueue failed"})
		return
	}
	h.logQueueAction(c, broadcastID, "queue.enqueue")
	c.JSON(http.StatusOK, res)
}

func (h Handlers) QueueSummary(c *gin.Context) {
	tenantID, broadcastID, ok := h.tenantBroadcast(c)
	if !ok {
		return
	}
	summary, err := h.Queue.Summary(c.Request.Context(), tenantID, broadcastID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "summary failed"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// RetryFailed resets the retryable cohort (failed, busy, no_answer) to
// pending with a fresh attempt budget. Explicit operator action, never
// automatic.
func (h Handlers) RetryFailed(c *gin.Context) {
	tenantID, broadcastID, ok := h.tenantBroadcast(c)
	if !ok {
		return
	}
	res, err := h.Queue.RetryFailed(c.Request.Context(), tenantID, broadcastID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "retry failed"})
		return
	}
	h.logQueueAction(c, broadcastID, "queue.retry")
	c.JSON(http.StatusOK, res)
}

// ClearPending deletes pending items only; dialed rows stay for analytics.
func (h Handlers) ClearPending(c *gin.Context) {
	tenantID, broadcastID, ok := h.tenantBroadcast(c)
	if !ok {
		return
	}
	res, err := h.Queue.ClearPending(c.Request.Context(), tenantID, broadcastID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "clear failed"})
		return
	}
	h.logQueueAction(c, broadcastID, "queue.clear")
	c.JSON(http.StatusOK, res)
}

// --- Broadcast lifecycle ---

// StartBroadcast runs the readiness preflight and, when clean, moves the
// broadcast to running. A blocked start is a 200 with reasons, not an error.
func (h Handlers) StartBroadcast(c *gin.Context) {
	tenantID, broadcastID, ok := h.tenantBroadcast(c)
	if !ok {
		return
	}
	res, err := h.Broadcasts.Start(c.Request.Context(), tenantID, broadcastID)
	if err != nil {
		switch {
		case errors.Is(err, broadcast.ErrNotFound):
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "broadcast not found"})
		case errors.Is(err, broadcast.ErrIllegalTransition):
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "start failed"})
		}
		return
	}
	h.logBroadcastAction(c, broadcastID, "broadcast.start")
	c.JSON(http.StatusOK, res)
}

func (h Handlers) StopBroadcast(c *gin.Context) {
	tenantID, broadcastID, ok := h.tenantBroadcast(c)
	if !ok {
		return
	}
	if err := h.Broadcasts.Stop(c.Request.Context(), tenantID, broadcastID); err != nil {
		switch {
		case errors.Is(err, broadcast.ErrNotFound):
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "broadcast not found"})
		case errors.Is(err, broadcast.ErrIllegalTransition):
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "stop failed"})
		}
		return
	}
	h.logBroadcastAction(c, broadcastID, "broadcast.stop")
	c.JSON(http.StatusOK, gin.H{"status": string(broadcast.StatusStopped)})
}

// --- Readiness ---

func (h Handlers) ReadinessReport(c *gin.Context) {
	tenantID, broadcastID, ok := h.tenantBroadcast(c)
	if !ok {
		return
	}
	report, err := h.Readiness.CheckReadiness(c.Request.Context(), tenantID, broadcastID)
	if err != nil {
		if errors.Is(err, broadcast.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "broadcast not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "readiness check failed"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// --- Pacing ---

// PacingSnapshot exposes the estimator and learner state for one broadcast:
// what the dispatcher would plan on its next tick.
func (h Handlers) PacingSnapshot(c *gin.Context) {
	tenantID, broadcastID, ok := h.tenantBroadcast(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	bc, err := h.BroadcastRepo.Get(ctx, tenantID, broadcastID)
	if err != nil {
		if errors.Is(err, broadcast.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "broadcast not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "broadcast lookup failed"})
		return
	}
	settings, err := h.BroadcastRepo.ConcurrencySettings(ctx, tenantID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "settings lookup failed"})
		return
	}
	active, err := h.ItemRepo.CountActive(ctx, tenantID, broadcastID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "active count failed"})
		return
	}
	history, err := h.Stats.Recent(ctx, tenantID, broadcastID, h.StatsWindow)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "stats lookup failed"})
		return
	}

	learned := pacing.LearnFromHistory(history, settings, bc.Config.CallsPerMinute)
	plan := pacing.ComputeDialingRate(active, settings, learned, bc.Config.CallsPerMinute)
	c.JSON(http.StatusOK, gin.H{
		"broadcast_id":   broadcastID,
		"settings":       settings,
		"recommendation": learned,
		"dialing_rate":   plan,
	})
}

// --- helpers ---

func (h Handlers) tenantBroadcast(c *gin.Context) (string, string, bool) {
	tenantID, err := auth.TenantID(c.Request.Context())
	if err != nil || tenantID == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
		return "", "", false
	}
	broadcastID := c.Param("broadcast_id")
	if broadcastID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "broadcast_id required"})
		return "", "", false
	}
	return tenantID, broadcastID, true
}

func (h Handlers) logQueueAction(c *gin.Context, broadcastID, action string) {
	if h.Audit == nil {
		return
	}
	tenantID, _ := auth.TenantID(c.Request.Context())
	userID, _ := auth.UserID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	_ = h.Audit.LogQueueAction(c.Request.Context(), tenantID, userID, role, c.ClientIP(), broadcastID, action, "")
}

func (h Handlers) logBroadcastAction(c *gin.Context, broadcastID, action string) {
	if h.Audit == nil {
		return
	}
	tenantID, _ := auth.TenantID(c.Request.Context())
	userID, _ := auth.UserID(c.Request.Context())
	role, _ := auth.Role(c.Request.Context())
	_ = h.Audit.LogBroadcastAction(c.Request.Context(), tenantID, userID, role, c.ClientIP(), broadcastID, action, "")
}

// Convenience middleware bundles.

func RequireTenantAndAnyRole(roles ...string) []gin.HandlerFunc {
	return []gin.HandlerFunc{rbac.RequireTenant(), rbac.RequireAnyRole(roles...)}
}

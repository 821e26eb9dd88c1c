package main

import (
	"database/sql"
	"net/http"
	"time"

	"voip-billing-platform/internal/auth"
	"voip-billing-platform/internal/httpapi"
	"voip-billing-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authManager *auth.Manager, db *sql.DB, rdb *redis.Client) {
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), db, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "postgres": err.Error()})
			return
		}
		if err := rdb.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/v1")

	// Call lifecycle hooks from the switch. Same service-token scheme as
	// ops but the switch carries the billing role.
	callsGroup := v1.Group("/calls")
	callsGroup.Use(auth.RequireServiceToken(authManager, auth.RoleBilling, auth.RoleOperator))
	{
		callsGroup.POST("/started", h.CallStarted)
		callsGroup.POST("/:call_id/ended", h.CallEnded)
		callsGroup.GET("/:call_id", h.GetCall)
	}

	customers := v1.Group("/customers")
	customers.Use(auth.RequireServiceToken(authManager, auth.RoleBilling, auth.RoleOperator))
	{
		customers.GET("/:customer_id/balance", h.GetBalance)
		customers.GET("/:customer_id/transactions", h.ListTransactions)
	}

	// Operator-only surface: forced terminations, manual money movement,
	// on-demand reconciliation.
	ops := v1.Group("/ops")
	ops.Use(auth.RequireServiceToken(authManager, auth.RoleOperator))
	{
		ops.POST("/customers/:customer_id/terminate-all", h.TerminateAll)
		ops.POST("/customers/:customer_id/credit", h.ManualCredit)
		ops.POST("/calls/:call_id/emergency-terminate", h.EmergencyTerminate)
		ops.POST("/billing/sweep", h.SweepNow)
	}
}

package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger is the database view needed for health checks
type Pinger interface {
	PingContext(ctx context.Context) error
	Degraded() bool
}

// HealthCheck reports service and database status. A degraded database
// still answers 200 so the process is not restarted while it reconnects.
func HealthCheck(db Pinger, version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := "healthy"
		dbStatus := "healthy"
		if db.Degraded() {
			status = "degraded"
			dbStatus = "reconnecting"
		} else if err := db.PingContext(ctx); err != nil {
			status = "degraded"
			dbStatus = "unhealthy"
		}

		c.JSON(http.StatusOK, gin.H{
			"status":    status,
			"database":  dbStatus,
			"version":   version,
			"timestamp": time.Now().Unix(),
		})
	}
}

package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/pagefetch/models"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// StatsProvider reports page limiter utilisation.
type StatsProvider interface {
	Stats() models.PoolStats
}

// Health returns a handler for GET /api/v1/health.
//
// Reports pool utilisation and degrades status when > 80% of pages are
// active. sp may be nil when no browser engine is running.
func Health(sp StatsProvider, engines func() []string, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		var stats models.PoolStats
		if sp != nil {
			stats = sp.Stats()
		}

		status := "healthy"
		if stats.MaxPages > 0 && stats.ActivePages > int(float64(stats.MaxPages)*0.8) {
			status = "degraded"
		}

		var names []string
		if engines != nil {
			names = engines()
		}

		c.JSON(http.StatusOK, models.HealthResponse{
			Status:    status,
			Uptime:    time.Since(startTime).Round(time.Second).String(),
			PoolStats: stats,
			Engines:   names,
			Version:   Version,
		})
	}
}

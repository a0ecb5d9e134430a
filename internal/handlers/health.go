package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
	Redis    string `json:"redis"`
}

func ping(ctx context.Context, p Pinger) (string, bool) {
	if p == nil {
		return "not configured", true
	}
	if err := p.Ping(ctx); err != nil {
		return "disconnected", false
	}
	return "connected", true
}

// HealthCheck reports the state of the database and Redis connections.
// GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	response := HealthResponse{Status: "ok"}
	dbStatus, dbOK := ping(ctx, h.database)
	redisStatus, redisOK := ping(ctx, h.redis)
	response.Database = dbStatus
	response.Redis = redisStatus

	if !dbOK || !redisOK {
		response.Status = "degraded"
		c.JSON(http.StatusServiceUnavailable, response)
		return
	}
	c.JSON(http.StatusOK, response)
}

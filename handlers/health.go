package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type HealthResponse struct {
	Status      string    `json:"status"`
	Service     string    `json:"service"`
	Connections int       `json:"connections"`
	Timestamp   time.Time `json:"timestamp"`
}

// HealthCheck handles GET /health
func HealthCheck(connections func() int) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, HealthResponse{
			Status:      "healthy",
			Service:     "signaling",
			Connections: connections(),
			Timestamp:   time.Now(),
		})
	}
}

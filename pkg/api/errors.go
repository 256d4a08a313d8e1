package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/chronicle-archive/chronicle/pkg/gateway"
	"github.com/chronicle-archive/chronicle/pkg/runs"
	"github.com/chronicle-archive/chronicle/pkg/store"
)

// renderServiceError maps service-layer errors to HTTP error responses.
func (s *Server) renderServiceError(c *gin.Context, err error) {
	var rl *gateway.RateLimitedError
	if errors.As(err, &rl) {
		c.Header("Retry-After", rl.RetryAfter.String())
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":               "rate limited",
			"retry_after_seconds": int(rl.RetryAfter.Seconds()),
		})
		return
	}
	if errors.Is(err, runs.ErrAlreadyRunning) {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "resource not found"})
		return
	}
	if errors.Is(err, gateway.ErrConfigMissing) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "model provider is not configured"})
		return
	}

	// Unexpected error
	s.logger.Error("Unexpected service error", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
}

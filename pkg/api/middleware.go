package api

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/spanlight/spanlight/pkg/metrics"
)

// securityHeaders sets standard security response headers.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		c.Next()
	}
}

// observeRequests records per-route counters and latency for the query API.
func observeRequests() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := fmt.Sprintf("%dxx", c.Writer.Status()/100)
		metrics.QueryRequests.WithLabelValues(route, status).Inc()
		metrics.QueryDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

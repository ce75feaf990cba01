package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/transcribe/backend/internal/infrastructure/telemetry"
)

// HTTPMetrics records request counts, latency and in-flight requests. Routes
// are labelled by pattern to keep cardinality bounded; unmatched requests
// share the "unknown" label.
func HTTPMetrics(metrics *telemetry.Metrics) gin.HandlerFunc {
	if metrics == nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	return func(c *gin.Context) {
		start := time.Now()
		metrics.HTTPRequestStarted()

		c.Next()

		metrics.HTTPRequestFinished(c.Request.Method, routePattern(c), c.Writer.Status(), time.Since(start))
	}
}

func routePattern(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return "unknown"
}

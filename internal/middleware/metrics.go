package middleware

import (
	"strconv"
	"time"

	"github.com/Adam151997/Y-CRM-sub000/internal/metrics"

	"github.com/gin-gonic/gin"
)

// MetricsMiddleware records request counts, latency, and in-flight gauge
// for every route. Uses the route template, not the raw URL, so tenant
// identifiers never become label values.
func MetricsMiddleware(rec metrics.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		rec.IncHTTPInFlight()
		defer rec.DecHTTPInFlight()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		rec.RecordHTTPRequest(
			c.Request.Method,
			path,
			strconv.Itoa(c.Writer.Status()),
			time.Since(start),
		)
	}
}

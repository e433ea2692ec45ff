package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"live-collab-sync/internal/metrics"
)

// Metrics counts requests by route template so share tokens and document
// ids never become label values.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.HTTPRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
	}
}

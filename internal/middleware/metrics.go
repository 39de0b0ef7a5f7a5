package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/temcen/hyprec/internal/services"
)

// Metrics records request counts and latencies by route template, so
// /recommendations/1 and /recommendations/2 share a series.
func Metrics(metrics *services.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		method := c.Request.Method

		metrics.HTTPRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(time.Since(start).Seconds())
	}
}

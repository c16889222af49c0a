package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/approvals-api/internal/service"
)

// unmatchedRoute labels requests that hit no registered route, keeping the path
// label bounded.
const unmatchedRoute = "unmatched"

// Metrics returns middleware that captures request metrics using the provided
// service. Scrapes of skipPaths are not observed.
func Metrics(metricsSvc *service.MetricsService, skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}
	return func(c *gin.Context) {
		if metricsSvc == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if _, ok := skip[path]; ok {
			return
		}
		if path == "" {
			path = unmatchedRoute
		}
		metricsSvc.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

// Package middleware provides the Gin HTTP middleware for the reporting
// backend. Everything here is registered in internal/api/router.go before
// any route handlers so every request is covered regardless of handler.
package middleware

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sheet-reports/sheet-reports/internal/telemetry"
)

// MetricsMiddleware records request count and latency for every request.
//
// The path label is taken from c.FullPath(), the matched route template
// (e.g. /api/v1/tenants/:tenant/reports/certificates) rather than the raw
// URL, which keeps label cardinality bounded no matter how many tenants
// exist. Requests that match no registered route use the literal
// "<no-route>".
//
// Register after gin.Recovery() and RequestIDMiddleware so the status set
// by error handlers is captured correctly.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "<no-route>"
		}

		duration := time.Since(start).Seconds()
		method := c.Request.Method
		status := fmt.Sprintf("%d", c.Writer.Status())

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

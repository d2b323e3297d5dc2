// Package api wires together all HTTP routes for the reporting backend.
//
// Route grouping philosophy:
//   - System routes (/health, /ready, /version) are unauthenticated probes.
//   - Everything tenant-scoped lives under /api/v1/tenants/:tenant and passes
//     through TenantMiddleware, which resolves the tenant exactly once and
//     stores it in the request context. Handlers never infer tenant identity
//     from anything else.
//   - Cache admin routes carry a much stricter rate limit than report routes
//     because a forced refresh fans out to the rate-limited upstream sheet
//     API.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sheet-reports/sheet-reports/internal/api/admin"
	"github.com/sheet-reports/sheet-reports/internal/api/reports"
	"github.com/sheet-reports/sheet-reports/internal/cache"
	"github.com/sheet-reports/sheet-reports/internal/config"
	"github.com/sheet-reports/sheet-reports/internal/jobs"
	"github.com/sheet-reports/sheet-reports/internal/middleware"
	"github.com/sheet-reports/sheet-reports/internal/refresh"
	"github.com/sheet-reports/sheet-reports/internal/tenant"
)

// BackgroundServices holds references to background jobs and resources that
// must be stopped during graceful shutdown. The caller (cmd/server) is
// responsible for calling Shutdown() when the process receives a
// termination signal.
type BackgroundServices struct {
	refreshJob   *jobs.RefreshJob
	rateLimiters []*middleware.RateLimiter
}

// Shutdown stops all background goroutines. It should be called after the
// HTTP server has been shut down so that in-flight requests are drained
// first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.refreshJob != nil {
		bg.refreshJob.Stop()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router. All collaborators are
// injected; the router owns only middleware wiring and the background
// refresh job.
func NewRouter(cfg *config.Config, registry *tenant.Registry, store *cache.Store, coordinator *refresh.Coordinator) (*gin.Engine, *BackgroundServices) {
	router := gin.New()
	bg := &BackgroundServices{}

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))

	ttl := cfg.Cache.TTL()
	reportHandler := reports.NewHandler(store, coordinator, ttl)
	adminHandler := admin.NewCacheHandler(store, coordinator)

	// System endpoints
	router.GET("/health", healthCheckHandler())
	router.GET("/ready", readinessHandler(cfg))
	router.GET("/version", versionHandler())

	var reportLimiter, refreshLimiter *middleware.RateLimiter
	if cfg.Security.RateLimiting.Enabled {
		limitCfg := middleware.DefaultRateLimitConfig()
		if cfg.Security.RateLimiting.RequestsPerMinute > 0 {
			limitCfg.RequestsPerMinute = cfg.Security.RateLimiting.RequestsPerMinute
		}
		if cfg.Security.RateLimiting.Burst > 0 {
			limitCfg.BurstSize = cfg.Security.RateLimiting.Burst
		}
		reportLimiter = middleware.NewRateLimiter(limitCfg)
		refreshLimiter = middleware.NewRateLimiter(middleware.RefreshRateLimitConfig())
		bg.rateLimiters = append(bg.rateLimiters, reportLimiter, refreshLimiter)
	}

	tenants := router.Group("/api/v1/tenants/:tenant")
	tenants.Use(middleware.TenantMiddleware(registry))
	{
		reportRoutes := tenants.Group("/reports")
		if reportLimiter != nil {
			reportRoutes.Use(middleware.RateLimitMiddleware(reportLimiter))
		}
		{
			reportRoutes.GET("/registrants", reportHandler.Registrants)
			reportRoutes.GET("/enrollments", reportHandler.Enrollments)
			reportRoutes.GET("/certificates", reportHandler.Certificates)
			reportRoutes.GET("/organizations", reportHandler.Organizations)
		}

		cacheRoutes := tenants.Group("/cache")
		{
			cacheRoutes.GET("", adminHandler.Status)
			if refreshLimiter != nil {
				cacheRoutes.POST("/refresh", middleware.RateLimitMiddleware(refreshLimiter), adminHandler.Refresh)
			} else {
				cacheRoutes.POST("/refresh", adminHandler.Refresh)
			}
			cacheRoutes.DELETE("", adminHandler.Clear)
		}
	}

	if cfg.Refresh.Enabled {
		bg.refreshJob = jobs.NewRefreshJob(coordinator, registry, ttl)
		bg.refreshJob.Start(context.Background(), cfg.Refresh.IntervalMinutes)
	}

	return router, bg
}

// healthCheckHandler reports process liveness. The service holds no
// connections to check; a responding process is a healthy one.
func healthCheckHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler reports whether the service can actually serve: the
// cache base path must be writable, since every refresh and report depends
// on it.
func readinessHandler(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := probeCacheDir(cfg.Cache.BasePath); err != nil {
			checks["cache"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "cache storage not writable",
			})
			return
		}
		checks["cache"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// probeCacheDir verifies the cache base path exists and accepts writes.
func probeCacheDir(basePath string) error {
	if err := os.MkdirAll(basePath, 0750); err != nil {
		return err
	}
	probe, err := os.CreateTemp(basePath, ".readiness-probe-*")
	if err != nil {
		return err
	}
	name := probe.Name()
	probe.Close()
	return os.Remove(filepath.Clean(name))
}

// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     "0.1.0",
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured logging
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		// slog emits text or JSON depending on the global handler
		// configured in telemetry.SetupLogger.
		logRequest(c, latency, path, query)
	}
}

func logRequest(c *gin.Context, latency time.Duration, path, query string) {
	requestID, _ := c.Get(middleware.RequestIDKey)
	slog.LogAttrs(
		c.Request.Context(),
		slog.LevelInfo,
		"http request",
		slog.String("method", c.Request.Method),
		slog.String("path", path),
		slog.String("query", query),
		slog.Int("status", c.Writer.Status()),
		slog.Int("size", c.Writer.Size()),
		slog.Duration("latency", latency),
		slog.String("ip", c.ClientIP()),
		slog.String("request_id", fmt.Sprintf("%v", requestID)),
		slog.String("user_agent", c.Request.UserAgent()),
	)
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, X-Requested-With")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

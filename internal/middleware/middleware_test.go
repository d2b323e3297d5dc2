package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ---------------------------------------------------------------------------
// Request ID
// ---------------------------------------------------------------------------

func newRequestIDRouter() *gin.Engine {
	router := gin.New()
	router.Use(RequestIDMiddleware())
	router.GET("/ping", func(c *gin.Context) {
		id, _ := c.Get(RequestIDKey)
		c.String(http.StatusOK, "%v", id)
	})
	return router
}

func TestRequestIDGeneratedWhenAbsent(t *testing.T) {
	router := newRequestIDRouter()
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/ping", nil)
	router.ServeHTTP(w, req)

	header := w.Header().Get(RequestIDHeader)
	if header == "" {
		t.Fatal("expected generated X-Request-ID header")
	}
	if w.Body.String() != header {
		t.Errorf("context value %q does not match header %q", w.Body.String(), header)
	}
}

func TestRequestIDPreservedWhenPresent(t *testing.T) {
	router := newRequestIDRouter()
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/ping", nil)
	req.Header.Set(RequestIDHeader, "upstream-id-42")
	router.ServeHTTP(w, req)

	if got := w.Header().Get(RequestIDHeader); got != "upstream-id-42" {
		t.Errorf("inbound request ID should be reused, got %q", got)
	}
}

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

func TestMetricsMiddlewareHandlesUnmatchedRoutes(t *testing.T) {
	router := gin.New()
	router.Use(MetricsMiddleware())
	router.GET("/known", func(c *gin.Context) { c.Status(http.StatusOK) })

	// Both a matched and an unmatched route must pass through without
	// panicking on the path label.
	for _, path := range []string{"/known", "/unknown"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
	}
}

// ---------------------------------------------------------------------------
// Rate limiting
// ---------------------------------------------------------------------------

func newLimitedRouter(limiter *RateLimiter) *gin.Engine {
	router := gin.New()
	router.GET("/tenants/:tenant/report", RateLimitMiddleware(limiter), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func TestRateLimitExhaustedBurstReturns429(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{
		RequestsPerMinute: 1,
		BurstSize:         2,
		CleanupInterval:   time.Minute,
	})
	defer limiter.Stop()
	router := newLimitedRouter(limiter)

	statuses := make([]int, 3)
	for i := range statuses {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/tenants/acme/report", nil))
		statuses[i] = w.Code
	}

	if statuses[0] != http.StatusOK || statuses[1] != http.StatusOK {
		t.Errorf("burst requests should pass, got %v", statuses)
	}
	if statuses[2] != http.StatusTooManyRequests {
		t.Errorf("request beyond burst should be limited, got %v", statuses)
	}
}

func TestRateLimitKeysByTenant(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{
		RequestsPerMinute: 1,
		BurstSize:         1,
		CleanupInterval:   time.Minute,
	})
	defer limiter.Stop()
	router := newLimitedRouter(limiter)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/tenants/acme/report", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("first acme request should pass, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/tenants/acme/report", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second acme request should be limited, got %d", w.Code)
	}

	// A different tenant has its own bucket.
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/tenants/globex/report", nil))
	if w.Code != http.StatusOK {
		t.Errorf("globex must not share acme's bucket, got %d", w.Code)
	}
}

func TestRateLimitHeadersPresent(t *testing.T) {
	limiter := NewRateLimiter(DefaultRateLimitConfig())
	defer limiter.Stop()
	router := newLimitedRouter(limiter)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/tenants/acme/report", nil))

	if w.Header().Get("X-RateLimit-Limit") == "" || w.Header().Get("X-RateLimit-Remaining") == "" {
		t.Error("rate limit headers missing from allowed response")
	}
}

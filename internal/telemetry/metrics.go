// Package telemetry provides application-level observability for the reporting
// service.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// automatically available on the side-channel HTTP server started by main.go:
//
//	GET http(s)://<host>:<SRB_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint is NOT served by the Gin router, so it stays
// off the public ingress path and bypasses rate-limiting middleware.
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as
// /api/v1/tenants/:tenant/reports/certificates) rather than the raw request URL
// to prevent unbounded label cardinality from user-supplied path segments.
// Tenant labels on refresh/cache metrics are bounded by the configured tenant
// table, which is small and static.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics — labelled by method, route template, and status code.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//   - p99 latency per route:             histogram_quantile(0.99, sum by (path, le) (rate(http_request_duration_seconds_bucket[5m])))
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Refresh cycle metrics — recorded by the refresh coordinator.
//
// RefreshCyclesTotal is a CounterVec with labels {tenant, trigger, status}.
// trigger is "ensure" (TTL-driven, including the background sweep) or "force"
// (explicit invalidation); status is the structured result: success, warning,
// error, or noop when the cache was already fresh.
//
// Example PromQL queries:
//   - Warning rate by tenant:  sum by (tenant) (rate(refresh_cycles_total{status="warning"}[1h]))
//   - Alert expression:        increase(refresh_cycles_total{status="error"}[30m]) > 3
//
// SheetFetchDuration is a HistogramVec with labels {tenant, dataset} observing
// the wall time of each external spreadsheet fetch, including retries.
var (
	RefreshCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refresh_cycles_total",
			Help: "Total number of cache refresh cycles, by tenant, trigger, and result status.",
		},
		[]string{"tenant", "trigger", "status"},
	)

	SheetFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sheet_fetch_duration_seconds",
			Help:    "Duration of a single external sheet fetch, by tenant and dataset kind.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"tenant", "dataset"},
	)
)

// CacheReadsTotal is a CounterVec with labels {tenant, outcome} where outcome
// is "hit", "miss", or "error". A rising miss rate with a stable TTL usually
// points at the background refresh job being disabled or failing.
//
// Example PromQL queries:
//   - Hit ratio:  sum(rate(cache_reads_total{outcome="hit"}[1h])) / sum(rate(cache_reads_total[1h]))
var CacheReadsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cache_reads_total",
		Help: "Total number of cache entry reads, by tenant and outcome.",
	},
	[]string{"tenant", "outcome"},
)

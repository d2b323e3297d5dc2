package telemetry

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// ---------------------------------------------------------------------------
// Metric registration sanity checks — verify every exported metric is properly
// registered and carries the expected fully-qualified name.
//
// We check registration via Describe() rather than DefaultGatherer.Gather()
// because Gather() only returns series that have been observed at least once;
// *Vec metrics with no label combinations yet used are silently absent from
// Gather output even though they are correctly registered.
// ---------------------------------------------------------------------------

func TestMetrics_AllRegistered(t *testing.T) {
	type describer interface {
		Describe(chan<- *prometheus.Desc)
	}

	cases := []struct {
		name string
		c    describer
	}{
		{"http_requests_total", HTTPRequestsTotal},
		{"http_request_duration_seconds", HTTPRequestDuration},
		{"refresh_cycles_total", RefreshCyclesTotal},
		{"sheet_fetch_duration_seconds", SheetFetchDuration},
		{"cache_reads_total", CacheReadsTotal},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			ch := make(chan *prometheus.Desc, 10)
			tc.c.Describe(ch)
			close(ch)
			found := false
			for desc := range ch {
				if strings.Contains(desc.String(), `"`+tc.name+`"`) {
					found = true
				}
			}
			if !found {
				t.Errorf("metric %q not described under its expected name", tc.name)
			}
		})
	}
}

func TestMetrics_LabelCombinationsUsable(t *testing.T) {
	// WithLabelValues panics when the label count is wrong; exercising each
	// vector once catches label drift between recorder and definition.
	RefreshCyclesTotal.WithLabelValues("t1", "ensure", "success").Add(0)
	SheetFetchDuration.WithLabelValues("t1", "registrants").Observe(0)
	CacheReadsTotal.WithLabelValues("t1", "hit").Add(0)
	HTTPRequestsTotal.WithLabelValues("GET", "/health", "200").Add(0)
	HTTPRequestDuration.WithLabelValues("GET", "/health").Observe(0)
}

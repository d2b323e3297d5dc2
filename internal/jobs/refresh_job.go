// Package jobs contains background workers that run on a schedule.
// The refresh job periodically sweeps every configured tenant and tops up
// any cache older than the TTL, so interactive report requests mostly hit
// warm data. Sweeps are idempotent — re-running after a crash produces the
// same cache state as a clean run.
package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sheet-reports/sheet-reports/internal/refresh"
	"github.com/sheet-reports/sheet-reports/internal/safego"
	"github.com/sheet-reports/sheet-reports/internal/tenant"
)

// RefreshJob sweeps tenant caches on a fixed interval.
type RefreshJob struct {
	coordinator *refresh.Coordinator
	registry    *tenant.Registry
	ttl         time.Duration
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

// NewRefreshJob creates a refresh job. ttl is the same freshness bound the
// request path uses, so the job and interactive requests never disagree
// about staleness.
func NewRefreshJob(coordinator *refresh.Coordinator, registry *tenant.Registry, ttl time.Duration) *RefreshJob {
	return &RefreshJob{
		coordinator: coordinator,
		registry:    registry,
		ttl:         ttl,
		stopCh:      make(chan struct{}),
	}
}

// Start begins the periodic sweep.
func (j *RefreshJob) Start(ctx context.Context, intervalMinutes int) {
	slog.Info("starting cache refresh job", "interval_minutes", intervalMinutes)

	j.wg.Add(1)
	// safego keeps a panicking sweep from taking the whole process down;
	// the deferred Done still runs during the unwind, so Stop never hangs.
	safego.Go(func() {
		defer j.wg.Done()

		ticker := time.NewTicker(time.Duration(intervalMinutes) * time.Minute)
		defer ticker.Stop()

		// Warm caches immediately on startup.
		j.sweep(ctx)

		for {
			select {
			case <-ticker.C:
				j.sweep(ctx)
			case <-j.stopCh:
				slog.Info("cache refresh job stopped")
				return
			case <-ctx.Done():
				slog.Info("cache refresh job context cancelled")
				return
			}
		}
	})
}

// Stop stops the job and waits for an in-flight sweep to finish.
func (j *RefreshJob) Stop() {
	close(j.stopCh)
	j.wg.Wait()
}

// sweep runs EnsureFresh for every tenant in sequence. Sequential on
// purpose: the upstream API is rate limited and a burst of parallel tenant
// fetches trips it.
func (j *RefreshJob) sweep(ctx context.Context) {
	for _, t := range j.registry.All() {
		select {
		case <-j.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		result := j.coordinator.EnsureFresh(ctx, t, j.ttl)
		switch result.Status {
		case refresh.StatusError:
			slog.Error("scheduled refresh failed", "tenant", t.ID, "message", result.Message)
		case refresh.StatusWarning:
			slog.Warn("scheduled refresh degraded", "tenant", t.ID, "message", result.Message)
		default:
			if result.Refreshed {
				slog.Info("scheduled refresh complete", "tenant", t.ID)
			}
		}
	}
}

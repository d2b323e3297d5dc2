// Package refresh orchestrates the cache refresh cycle: staleness check,
// upstream fetch, normalization, persistence, and derivation of the
// secondary datasets every report reads.
//
// The coordinator is the only writer of cache entries. Concurrent refresh
// requests for the same tenant collapse into one upstream fetch through a
// per-tenant single-flight group; every caller of the collapsed flight
// receives the same result.
package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sheet-reports/sheet-reports/internal/cache"
	"github.com/sheet-reports/sheet-reports/internal/schema"
	"github.com/sheet-reports/sheet-reports/internal/sheets"
	"github.com/sheet-reports/sheet-reports/internal/telemetry"
	"github.com/sheet-reports/sheet-reports/internal/tenant"
)

// Fetcher is the upstream dependency of the coordinator. *sheets.Client
// satisfies it; tests substitute doubles.
type Fetcher interface {
	Fetch(ctx context.Context, spec sheets.FetchSpec) ([][]string, error)
}

// Status is the caller-visible outcome of a refresh cycle.
type Status string

const (
	// StatusSuccess means every dataset was fetched and persisted.
	StatusSuccess Status = "success"
	// StatusWarning means the cycle produced usable data but something
	// degraded: a stale fallback was served or a persistence write failed.
	StatusWarning Status = "warning"
	// StatusError means no usable data could be produced.
	StatusError Status = "error"
)

// Result aggregates a refresh cycle into exactly one status plus a
// human-readable message. Refreshed distinguishes "already fresh" from
// "just refreshed."
type Result struct {
	Status    Status `json:"status"`
	Message   string `json:"message"`
	Refreshed bool   `json:"refreshed"`
}

// Coordinator drives refresh cycles for all tenants.
type Coordinator struct {
	store   *cache.Store
	fetcher Fetcher
	flights singleflight.Group
	now     func() time.Time
}

// New constructs a coordinator around a cache store and an upstream
// fetcher.
func New(store *cache.Store, fetcher Fetcher) *Coordinator {
	return &Coordinator{
		store:   store,
		fetcher: fetcher,
		now:     time.Now,
	}
}

// EnsureFresh refreshes the tenant's cache only if it is older than ttl.
func (c *Coordinator) EnsureFresh(ctx context.Context, t *tenant.Tenant, ttl time.Duration) Result {
	if c.store.IsFresh(ctx, t.ID, ttl) {
		telemetry.RefreshCyclesTotal.WithLabelValues(t.ID, "ensure", "noop").Inc()
		return Result{Status: StatusSuccess, Message: "cache is fresh", Refreshed: false}
	}
	return c.refresh(ctx, t, "ensure")
}

// ForceRefresh unconditionally runs a refresh cycle for the tenant.
func (c *Coordinator) ForceRefresh(ctx context.Context, t *tenant.Tenant) Result {
	return c.refresh(ctx, t, "force")
}

// refresh collapses concurrent cycles for one tenant into a single flight.
func (c *Coordinator) refresh(ctx context.Context, t *tenant.Tenant, trigger string) Result {
	v, _, _ := c.flights.Do(t.ID, func() (interface{}, error) {
		result := c.runCycle(ctx, t)
		telemetry.RefreshCyclesTotal.WithLabelValues(t.ID, trigger, string(result.Status)).Inc()
		return result, nil
	})
	return v.(Result)
}

// dataset pairs a raw entry name with the tenant coordinates that fill it.
type dataset struct {
	name string
	kind string
	spec sheets.FetchSpec
}

func datasetsFor(t *tenant.Tenant) []dataset {
	return []dataset{
		{
			name: cache.EntryRawRegistrants,
			kind: "registrants",
			spec: sheets.FetchSpec{
				WorkbookID: t.WorkbookID,
				SheetName:  t.RegistrantsSheet,
				StartRow:   t.RegistrantsStartRow,
				APIKey:     t.APIKey,
			},
		},
		{
			name: cache.EntryRawSubmissions,
			kind: "submissions",
			spec: sheets.FetchSpec{
				WorkbookID: t.WorkbookID,
				SheetName:  t.SubmissionsSheet,
				StartRow:   t.SubmissionsStartRow,
				APIKey:     t.APIKey,
			},
		},
	}
}

// runCycle executes one full refresh cycle. Raw persistence happens before
// derivation, and derivation before derived persistence.
func (c *Coordinator) runCycle(ctx context.Context, t *tenant.Tenant) Result {
	stamp := c.now()
	rows := make(map[string][][]string, 2)
	var warnings []string

	for _, ds := range datasetsFor(t) {
		start := time.Now()
		fetched, err := c.fetcher.Fetch(ctx, ds.spec)
		telemetry.SheetFetchDuration.WithLabelValues(t.ID, ds.kind).Observe(time.Since(start).Seconds())

		if err != nil {
			kind := sheets.Classify(err)
			if kind != sheets.ServiceUnavailable {
				// Credential and contract failures are not survivable with
				// a fallback; operator intervention is needed either way.
				slog.Error("sheet fetch failed",
					"tenant", t.ID, "dataset", ds.kind, "classification", string(kind), "error", err)
				return Result{
					Status:  StatusError,
					Message: fmt.Sprintf("failed to fetch %s: %v", ds.kind, err),
				}
			}

			// Upstream outage: fall back to the last cached copy if one
			// exists. Its envelope keeps the old timestamp so the next
			// request retries the fetch.
			envelope, cacheErr := c.store.ReadRaw(ctx, t.ID, ds.name)
			if cacheErr != nil {
				slog.Error("sheet fetch failed with no cached fallback",
					"tenant", t.ID, "dataset", ds.kind, "error", err)
				return Result{
					Status:  StatusError,
					Message: fmt.Sprintf("%s unavailable and no cached copy exists: %v", ds.kind, err),
				}
			}
			slog.Warn("serving stale cache after fetch failure",
				"tenant", t.ID, "dataset", ds.kind, "error", err)
			rows[ds.name] = envelope.Data
			warnings = append(warnings, fmt.Sprintf("%s temporarily unavailable, serving cached copy", ds.kind))
			continue
		}

		normalized := schema.NormalizeRows(fetched)
		if t.Demo {
			if orgCol, colErr := schema.OrgColumn(ds.kind); colErr == nil {
				normalized = schema.DemoRelabel(normalized, orgCol, t.DemoLabel)
			}
		}
		rows[ds.name] = normalized

		if err := c.store.WriteRaw(ctx, t.ID, ds.name, normalized, stamp); err != nil {
			slog.Warn("failed to persist raw dataset",
				"tenant", t.ID, "dataset", ds.kind, "error", err)
			warnings = append(warnings, fmt.Sprintf("%s fetched but not durably cached", ds.kind))
		}
	}

	if err := c.persistDerived(ctx, t, rows); err != nil {
		slog.Warn("failed to persist derived datasets", "tenant", t.ID, "error", err)
		warnings = append(warnings, "derived datasets not durably cached")
	}

	if len(warnings) > 0 {
		return Result{
			Status:    StatusWarning,
			Message:   joinWarnings(warnings),
			Refreshed: true,
		}
	}
	slog.Info("refresh cycle complete", "tenant", t.ID)
	return Result{Status: StatusSuccess, Message: "refreshed", Refreshed: true}
}

// persistDerived recomputes and overwrites the derived datasets from the
// raw rows of this cycle. Registrant rows are decoded so the flag checks
// read named fields; short rows are dropped by the decode.
func (c *Coordinator) persistDerived(ctx context.Context, t *tenant.Tenant, rows map[string][][]string) error {
	registrants := schema.DecodeRegistrants(rows[cache.EntryRawRegistrants])
	submissions := rows[cache.EntryRawSubmissions]

	flagged := func(keep func(schema.Registrant) bool) [][]string {
		kept := make([][]string, 0, len(registrants))
		for _, r := range registrants {
			if keep(r) {
				kept = append(kept, r.Row)
			}
		}
		return kept
	}

	derived := map[string][][]string{
		cache.EntryRegistrations: submissions,
		cache.EntryEnrollments:   flagged(func(r schema.Registrant) bool { return r.Enrolled == schema.Yes }),
		cache.EntryCertificates:  flagged(func(r schema.Registrant) bool { return r.Certificate == schema.Yes }),
	}

	for _, name := range cache.DerivedEntries {
		if err := c.store.WriteRows(ctx, t.ID, name, derived[name]); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
	}
	return nil
}

func joinWarnings(warnings []string) string {
	msg := warnings[0]
	for _, w := range warnings[1:] {
		msg += "; " + w
	}
	return msg
}

package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sheet-reports/sheet-reports/internal/telemetry"
)

// Store layers the domain operations on a Backend: envelope encoding for raw
// mirrors, bare row arrays for derived extracts, freshness evaluation, and
// namespace-wide maintenance.
type Store struct {
	backend Backend
	now     func() time.Time
}

// NewStore wraps a backend.
func NewStore(backend Backend) *Store {
	return &Store{backend: backend, now: time.Now}
}

// ReadRaw reads and decodes an envelope-wrapped raw dataset.
func (s *Store) ReadRaw(ctx context.Context, tenantID, name string) (*RawEnvelope, error) {
	data, err := s.backend.Read(ctx, tenantID, name)
	if err != nil {
		s.countRead(tenantID, err)
		return nil, err
	}

	var envelope RawEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		telemetry.CacheReadsTotal.WithLabelValues(tenantID, "error").Inc()
		return nil, fmt.Errorf("corrupt cache entry %s: %w", name, err)
	}

	telemetry.CacheReadsTotal.WithLabelValues(tenantID, "hit").Inc()
	return &envelope, nil
}

// WriteRaw encodes rows into a timestamped envelope and writes it
// atomically.
func (s *Store) WriteRaw(ctx context.Context, tenantID, name string, rows [][]string, stamp time.Time) error {
	if rows == nil {
		rows = [][]string{}
	}
	data, err := json.Marshal(RawEnvelope{
		GlobalTimestamp: stamp.UTC().Format(time.RFC3339),
		Data:            rows,
	})
	if err != nil {
		return fmt.Errorf("failed to encode cache entry %s: %w", name, err)
	}
	return s.backend.Write(ctx, tenantID, name, data)
}

// ReadRows reads a derived extract stored as a bare row array.
func (s *Store) ReadRows(ctx context.Context, tenantID, name string) ([][]string, error) {
	data, err := s.backend.Read(ctx, tenantID, name)
	if err != nil {
		s.countRead(tenantID, err)
		return nil, err
	}

	var rows [][]string
	if err := json.Unmarshal(data, &rows); err != nil {
		telemetry.CacheReadsTotal.WithLabelValues(tenantID, "error").Inc()
		return nil, fmt.Errorf("corrupt cache entry %s: %w", name, err)
	}

	telemetry.CacheReadsTotal.WithLabelValues(tenantID, "hit").Inc()
	return rows, nil
}

// WriteRows writes a derived extract as a bare row array.
func (s *Store) WriteRows(ctx context.Context, tenantID, name string, rows [][]string) error {
	if rows == nil {
		rows = [][]string{}
	}
	data, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry %s: %w", name, err)
	}
	return s.backend.Write(ctx, tenantID, name, data)
}

func (s *Store) countRead(tenantID string, err error) {
	outcome := "error"
	if errors.Is(err, ErrNotFound) {
		outcome = "miss"
	}
	telemetry.CacheReadsTotal.WithLabelValues(tenantID, outcome).Inc()
}

// LastRefreshed returns the oldest embedded timestamp across the tenant's
// raw datasets, so a dataset served from a stale fallback drags the whole
// cache back to its age. An envelope with no parsable timestamp falls back
// to the entry's modification time. Returns ErrNotFound when any raw
// dataset is missing.
func (s *Store) LastRefreshed(ctx context.Context, tenantID string) (time.Time, error) {
	var oldest time.Time
	for _, name := range RawEntries {
		envelope, err := s.ReadRaw(ctx, tenantID, name)
		if err != nil {
			return time.Time{}, err
		}

		ts, perr := time.Parse(time.RFC3339, envelope.GlobalTimestamp)
		if perr != nil {
			info, serr := s.backend.Stat(ctx, tenantID, name)
			if serr != nil {
				return time.Time{}, serr
			}
			ts = info.ModTime
		}

		if oldest.IsZero() || ts.Before(oldest) {
			oldest = ts
		}
	}
	return oldest, nil
}

// IsFresh reports whether every raw dataset was refreshed within ttl and
// every derived entry exists. A partially populated namespace is never
// fresh, so the next ensure-style refresh repairs it.
func (s *Store) IsFresh(ctx context.Context, tenantID string, ttl time.Duration) bool {
	last, err := s.LastRefreshed(ctx, tenantID)
	if err != nil || s.now().Sub(last) >= ttl {
		return false
	}
	for _, name := range DerivedEntries {
		if _, err := s.backend.Stat(ctx, tenantID, name); err != nil {
			return false
		}
	}
	return true
}

// Metadata returns EntryInfo for every cache entry the tenant currently
// has, in canonical entry order. Missing entries are skipped.
func (s *Store) Metadata(ctx context.Context, tenantID string) ([]EntryInfo, error) {
	var entries []EntryInfo
	for _, name := range AllEntries {
		info, err := s.backend.Stat(ctx, tenantID, name)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		entries = append(entries, *info)
	}
	return entries, nil
}

// ClearAll removes every cache entry for a tenant and returns how many
// entries existed before removal.
func (s *Store) ClearAll(ctx context.Context, tenantID string) (int, error) {
	removed := 0
	for _, name := range AllEntries {
		if _, err := s.backend.Stat(ctx, tenantID, name); err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return removed, err
		}
		if err := s.backend.Remove(ctx, tenantID, name); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// Dir reports the backend location of a tenant's namespace.
func (s *Store) Dir(tenantID string) string {
	return s.backend.Dir(tenantID)
}

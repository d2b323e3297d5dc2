// Package cache defines the Backend interface and common types for the
// per-tenant report cache.
//
// Each tenant owns an isolated namespace of named JSON entries: two raw
// dataset mirrors wrapped in a timestamped envelope, plus derived extracts
// stored as bare row arrays. Backends are added by implementing Backend and
// registering with the factory via an init() function in the backend's own
// package:
//
//	func init() {
//	    cache.Register("mybackend", func(cfg *config.Config) (cache.Backend, error) {
//	        return NewMyBackend(cfg)
//	    })
//	}
//
// The main package imports each backend with a blank import to trigger
// init(), so adding a backend requires no factory changes.
package cache

import (
	"context"
	"errors"
	"time"
)

// Entry names for each tenant's cache namespace.
const (
	// EntryRawRegistrants and EntryRawSubmissions hold the mirrored upstream
	// datasets wrapped in a RawEnvelope.
	EntryRawRegistrants = "all-registrants-data.json"
	EntryRawSubmissions = "all-submissions-data.json"

	// Derived extracts, stored as bare JSON row arrays.
	EntryRegistrations = "registrations.json"
	EntryEnrollments   = "enrollments.json"
	EntryCertificates  = "certificates.json"
)

// RawEntries lists the envelope-wrapped entries in write order.
var RawEntries = []string{EntryRawRegistrants, EntryRawSubmissions}

// DerivedEntries lists the extract entries in write order.
var DerivedEntries = []string{EntryRegistrations, EntryEnrollments, EntryCertificates}

// AllEntries lists every entry a refresh cycle produces.
var AllEntries = []string{
	EntryRawRegistrants, EntryRawSubmissions,
	EntryRegistrations, EntryEnrollments, EntryCertificates,
}

// ErrNotFound is returned when a cache entry does not exist.
var ErrNotFound = errors.New("cache entry not found")

// RawEnvelope wraps a mirrored dataset with the timestamp of the refresh
// cycle that produced it. The timestamp is the freshness authority for the
// whole tenant namespace.
type RawEnvelope struct {
	GlobalTimestamp string     `json:"global_timestamp"`
	Data            [][]string `json:"data"`
}

// EntryInfo describes a stored cache entry.
type EntryInfo struct {
	// Name is the entry name within the tenant's namespace.
	Name string

	// Size is the stored size in bytes.
	Size int64

	// Checksum is the SHA256 hash of the stored bytes.
	Checksum string

	// ModTime is when the entry was last written.
	ModTime time.Time
}

// Backend is the storage interface for tenant cache entries. Writes must be
// atomic: a concurrent reader sees either the previous content or the new
// content, never a partial entry.
type Backend interface {
	// Read returns the full content of an entry. Returns ErrNotFound if the
	// entry does not exist.
	Read(ctx context.Context, tenantID, name string) ([]byte, error)

	// Write atomically replaces an entry's content.
	Write(ctx context.Context, tenantID, name string, data []byte) error

	// Stat returns metadata for an entry. Returns ErrNotFound if the entry
	// does not exist.
	Stat(ctx context.Context, tenantID, name string) (*EntryInfo, error)

	// Remove deletes an entry. Removing a missing entry is not an error.
	Remove(ctx context.Context, tenantID, name string) error

	// Dir returns the backend location of a tenant's namespace, for
	// diagnostics.
	Dir(tenantID string) string
}

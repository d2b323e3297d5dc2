// Package fs implements the filesystem cache backend. Each tenant gets a
// directory under the configured base path, and every write stages to a
// temp file in the same directory before renaming over the target, so
// readers never observe a partially written entry.
//
// This backend is intended for single-node deployments; multiple instances
// would need a shared filesystem to agree on cache state.
package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sheet-reports/sheet-reports/internal/cache"
	"github.com/sheet-reports/sheet-reports/internal/config"
)

func init() {
	cache.Register("fs", func(cfg *config.Config) (cache.Backend, error) {
		return New(cfg.Cache.BasePath)
	})
}

// FSBackend implements cache.Backend on the local filesystem.
type FSBackend struct {
	basePath string
}

// New creates a filesystem cache backend rooted at basePath.
func New(basePath string) (*FSBackend, error) {
	if err := os.MkdirAll(basePath, 0750); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	return &FSBackend{basePath: basePath}, nil
}

// Dir returns the directory holding a tenant's entries.
func (b *FSBackend) Dir(tenantID string) string {
	return filepath.Join(b.basePath, tenantID)
}

func (b *FSBackend) entryPath(tenantID, name string) string {
	return filepath.Join(b.basePath, tenantID, name)
}

// Read returns the full content of an entry.
func (b *FSBackend) Read(ctx context.Context, tenantID, name string) ([]byte, error) {
	data, err := os.ReadFile(b.entryPath(tenantID, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cache.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read cache entry: %w", err)
	}
	return data, nil
}

// Write atomically replaces an entry via a same-directory temp file and
// rename.
func (b *FSBackend) Write(ctx context.Context, tenantID, name string, data []byte) error {
	dir := b.Dir(tenantID)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create tenant cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, name+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, b.entryPath(tenantID, name)); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to publish cache entry: %w", err)
	}

	return nil
}

// Stat returns metadata for an entry, including its SHA256 checksum.
func (b *FSBackend) Stat(ctx context.Context, tenantID, name string) (*cache.EntryInfo, error) {
	path := b.entryPath(tenantID, name)

	stat, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cache.ErrNotFound
		}
		return nil, fmt.Errorf("failed to stat cache entry: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read cache entry for checksum: %w", err)
	}
	sum := sha256.Sum256(data)

	return &cache.EntryInfo{
		Name:     name,
		Size:     stat.Size(),
		Checksum: hex.EncodeToString(sum[:]),
		ModTime:  stat.ModTime(),
	}, nil
}

// Remove deletes an entry. Missing entries are treated as already removed.
func (b *FSBackend) Remove(ctx context.Context, tenantID, name string) error {
	if err := os.Remove(b.entryPath(tenantID, name)); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to remove cache entry: %w", err)
	}
	return nil
}

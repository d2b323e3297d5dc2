// Package admin serves the cache maintenance routes: inspect a tenant's
// cache state, force a refresh, and clear the namespace. These are operator
// endpoints, not report consumers, so they expose storage details (entry
// sizes, checksums, timestamps) a report never would.
package admin

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/sheet-reports/sheet-reports/internal/cache"
	"github.com/sheet-reports/sheet-reports/internal/middleware"
	"github.com/sheet-reports/sheet-reports/internal/refresh"
)

// CacheHandler serves the cache admin routes.
type CacheHandler struct {
	store       *cache.Store
	coordinator *refresh.Coordinator
}

// NewCacheHandler constructs the handler.
func NewCacheHandler(store *cache.Store, coordinator *refresh.Coordinator) *CacheHandler {
	return &CacheHandler{store: store, coordinator: coordinator}
}

// entryStatus is the wire form of one cache entry's metadata.
type entryStatus struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
	ModTime  string `json:"mod_time"`
}

// Status handles GET /cache: the tenant's entries with sizes and checksums,
// plus the timestamp of the last completed refresh.
func (h *CacheHandler) Status(c *gin.Context) {
	t, ok := middleware.TenantFrom(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "tenant not resolved"})
		return
	}

	entries, err := h.store.Metadata(c.Request.Context(), t.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read cache metadata"})
		return
	}

	out := make([]entryStatus, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryStatus{
			Name:     e.Name,
			Size:     e.Size,
			Checksum: e.Checksum,
			ModTime:  e.ModTime.UTC().Format(time.RFC3339),
		})
	}

	body := gin.H{
		"tenant":    t.ID,
		"cache_dir": h.store.Dir(t.ID),
		"exists":    len(out) > 0,
		"entries":   out,
	}

	last, err := h.store.LastRefreshed(c.Request.Context(), t.ID)
	switch {
	case err == nil:
		body["last_refreshed"] = last.UTC().Format(time.RFC3339)
	case errors.Is(err, cache.ErrNotFound):
		body["last_refreshed"] = nil
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read cache metadata"})
		return
	}

	c.JSON(http.StatusOK, body)
}

// Refresh handles POST /cache/refresh: an unconditional refresh cycle.
func (h *CacheHandler) Refresh(c *gin.Context) {
	t, ok := middleware.TenantFrom(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "tenant not resolved"})
		return
	}

	result := h.coordinator.ForceRefresh(c.Request.Context(), t)
	status := http.StatusOK
	if result.Status == refresh.StatusError {
		status = http.StatusBadGateway
	}
	c.JSON(status, result)
}

// Clear handles DELETE /cache: removes every entry in the tenant's
// namespace and reports how many existed.
func (h *CacheHandler) Clear(c *gin.Context) {
	t, ok := middleware.TenantFrom(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "tenant not resolved"})
		return
	}

	removed, err := h.store.ClearAll(c.Request.Context(), t.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear cache"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tenant":  t.ID,
		"removed": removed,
	})
}

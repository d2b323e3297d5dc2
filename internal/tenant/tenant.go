// Package tenant defines the tenant value threaded explicitly through every
// cache, refresh, and report call. Tenant identity is resolved exactly once per
// request (or job iteration) from the static registry; nothing downstream
// infers the current tenant from ambient state, which keeps cross-tenant
// isolation mechanically checkable.
package tenant

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/sheet-reports/sheet-reports/internal/config"
)

// Tenant is one isolated customer namespace: its own sheet coordinates, API
// credentials, cache directory, and report settings.
type Tenant struct {
	ID   string
	Name string

	APIKey     string
	WorkbookID string

	RegistrantsSheet    string
	RegistrantsStartRow int
	SubmissionsSheet    string
	SubmissionsStartRow int

	// MinStartDate is the earliest reportable date (zero when unconfigured).
	MinStartDate time.Time

	Demo      bool
	DemoLabel string

	// OrgGroups maps an organization name to its roll-up group. Organizations
	// absent from the map contribute to no group.
	OrgGroups map[string]string
	// GroupNames lists the configured groups in stable sorted order.
	GroupNames []string
}

// CacheDir returns the tenant's cache namespace under the given base path.
func (t *Tenant) CacheDir(basePath string) string {
	return filepath.Join(basePath, t.ID)
}

// Registry is the immutable tenant table built once from configuration.
type Registry struct {
	tenants map[string]*Tenant
	order   []string
}

// NewRegistry builds the registry from the validated tenants section of the
// configuration. Config validation has already rejected duplicate or unsafe
// IDs, so construction cannot fail for those; only date parsing is rechecked.
func NewRegistry(cfgs []config.TenantConfig) (*Registry, error) {
	r := &Registry{tenants: make(map[string]*Tenant, len(cfgs))}
	for i := range cfgs {
		t, err := fromConfig(&cfgs[i])
		if err != nil {
			return nil, fmt.Errorf("tenant %s: %w", cfgs[i].ID, err)
		}
		r.tenants[t.ID] = t
		r.order = append(r.order, t.ID)
	}
	return r, nil
}

func fromConfig(c *config.TenantConfig) (*Tenant, error) {
	t := &Tenant{
		ID:                  c.ID,
		Name:                c.Name,
		APIKey:              c.APIKey,
		WorkbookID:          c.WorkbookID,
		RegistrantsSheet:    c.RegistrantsSheet,
		RegistrantsStartRow: c.RegistrantsStartRow,
		SubmissionsSheet:    c.SubmissionsSheet,
		SubmissionsStartRow: c.SubmissionsStartRow,
		Demo:                c.Demo,
		DemoLabel:           c.DemoLabel,
	}
	if t.Name == "" {
		t.Name = t.ID
	}
	if t.Demo && t.DemoLabel == "" {
		t.DemoLabel = "Demo Organization"
	}
	if c.MinStartDate != "" {
		d, err := time.Parse("01-02-06", c.MinStartDate)
		if err != nil {
			return nil, fmt.Errorf("invalid min_start_date %q: %w", c.MinStartDate, err)
		}
		t.MinStartDate = d
	}

	// Invert group → members into org → group for roll-up lookups.
	t.OrgGroups = make(map[string]string)
	for group, orgs := range c.Groups {
		t.GroupNames = append(t.GroupNames, group)
		for _, org := range orgs {
			t.OrgGroups[org] = group
		}
	}
	sort.Strings(t.GroupNames)

	return t, nil
}

// Resolve returns the tenant for the given id.
func (r *Registry) Resolve(id string) (*Tenant, error) {
	t, ok := r.tenants[id]
	if !ok {
		return nil, fmt.Errorf("unknown tenant: %s", id)
	}
	return t, nil
}

// All returns every configured tenant in configuration order.
func (r *Registry) All() []*Tenant {
	out := make([]*Tenant, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.tenants[id])
	}
	return out
}

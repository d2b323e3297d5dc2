package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sheet-reports/sheet-reports/internal/tenant"
)

// TenantKey is the gin.Context key under which the resolved *tenant.Tenant
// is stored.
const TenantKey = "tenant"

// TenantMiddleware resolves the :tenant path parameter against the registry
// and stores the tenant in the request context. Unknown tenants are
// rejected before any cache or refresh machinery runs. Handlers downstream
// read the tenant with TenantFrom and never infer it from anything else.
func TenantMiddleware(registry *tenant.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, err := registry.Resolve(c.Param("tenant"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
				"error": "unknown tenant",
			})
			return
		}

		c.Set(TenantKey, t)
		c.Next()
	}
}

// TenantFrom retrieves the tenant resolved by TenantMiddleware.
func TenantFrom(c *gin.Context) (*tenant.Tenant, bool) {
	v, ok := c.Get(TenantKey)
	if !ok {
		return nil, false
	}
	t, ok := v.(*tenant.Tenant)
	return t, ok
}

package cache

import (
	"net/http"

	"github.com/aistack/plugin-registry/pkg/tenancy"
)

// Manager holds separate cache instances for registry listings and
// per-tenant capability projections, each with its own TTL. Projection
// keys carry the tenant so invalidation stays tenant-scoped.
type Manager struct {
	registry    *TTLCache
	projections *TTLCache
}

// NewManager creates a Manager from the given configuration. If cfg is
// nil or disabled, it returns nil; a nil Manager is safe to call.
func NewManager(cfg *Config) *Manager {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	return &Manager{
		registry:    NewTTLCache(cfg.MaxSize, cfg.RegistryTTL),
		projections: NewTTLCache(cfg.MaxSize, cfg.ProjectionTTL),
	}
}

// RegistryMiddleware caches registry listing and stats responses. The
// registry is tenant-independent, so the URI alone is the key.
func (m *Manager) RegistryMiddleware() func(http.Handler) http.Handler {
	return Middleware(m.registry, URIKey)
}

// ProjectionMiddleware caches provider and tool projection responses,
// keyed by tenant and URI.
func (m *Manager) ProjectionMiddleware() func(http.Handler) http.Handler {
	return Middleware(m.projections, func(r *http.Request) string {
		tenantID := tenancy.TenantIDFromContext(r.Context())
		if tenantID == "" {
			return ""
		}
		return tenantID + "|" + r.URL.RequestURI()
	})
}

// InvalidateRegistry clears the registry cache. Called after any install
// or uninstall that can change the registered descriptor set.
func (m *Manager) InvalidateRegistry() {
	if m == nil {
		return
	}
	m.registry.InvalidateAll()
}

// InvalidateTenant clears the tenant's projection entries along with the
// registry cache.
func (m *Manager) InvalidateTenant(tenantID string) {
	if m == nil {
		return
	}
	m.projections.InvalidatePrefix(tenantID + "|")
	m.registry.InvalidateAll()
}

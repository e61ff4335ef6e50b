// Package tenancy provides multi-tenant context resolution and middleware
// for the plugin server. It supports single-tenant (backward compatible)
// and per-request multi-tenant modes.
package tenancy

// Mode controls how tenant context is resolved.
type Mode string

const (
	// ModeSingle uses the "default" tenant for all requests (backward compat).
	ModeSingle Mode = "single"
	// ModeHeader requires a tenant identifier per request (multi-tenant).
	ModeHeader Mode = "header"
)

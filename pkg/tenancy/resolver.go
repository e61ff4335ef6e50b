package tenancy

import (
	"fmt"
	"net/http"
	"regexp"
)

// maxTenantIDLen is the maximum length for a tenant identifier.
const maxTenantIDLen = 63

// tenantIDRe validates tenant identifier format: lowercase alphanumeric and
// hyphens, must start and end with an alphanumeric character (DNS label
// convention).
var tenantIDRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)

// TenantQueryParam is the query parameter name used for tenant resolution.
const TenantQueryParam = "tenantId"

// TenantHeader is the HTTP header used for tenant resolution.
const TenantHeader = "X-Tenant-Id"

// TenantResolver resolves the tenant context from an HTTP request.
type TenantResolver interface {
	Resolve(r *http.Request) (TenantContext, error)
}

// SingleTenantResolver always returns the "default" tenant.
type SingleTenantResolver struct{}

// Resolve always returns a TenantContext with TenantID "default".
func (s SingleTenantResolver) Resolve(_ *http.Request) (TenantContext, error) {
	return TenantContext{TenantID: "default"}, nil
}

// HeaderTenantResolver reads the tenant identifier from the request header
// or query parameter. In multi-tenant mode the tenant is always required.
type HeaderTenantResolver struct{}

// Resolve extracts the tenant identifier from the request. It checks the
// X-Tenant-Id header first, then falls back to the tenantId query parameter.
// Returns an error if the tenant is missing or invalid.
func (h HeaderTenantResolver) Resolve(r *http.Request) (TenantContext, error) {
	id := r.Header.Get(TenantHeader)
	if id == "" {
		id = r.URL.Query().Get(TenantQueryParam)
	}

	if id == "" {
		return TenantContext{}, fmt.Errorf("tenant is required in multi-tenant mode (use the X-Tenant-Id header or ?tenantId= query param)")
	}

	if err := validateTenantID(id); err != nil {
		return TenantContext{}, err
	}

	return TenantContext{TenantID: id}, nil
}

// validateTenantID checks that a tenant identifier conforms to DNS label
// rules: lowercase alphanumeric and hyphens, 1-63 characters, starts and
// ends with alphanumeric.
func validateTenantID(id string) error {
	if len(id) > maxTenantIDLen {
		return fmt.Errorf("tenant %q exceeds maximum length of %d characters", id, maxTenantIDLen)
	}
	if !tenantIDRe.MatchString(id) {
		return fmt.Errorf("tenant %q is invalid: must consist of lowercase alphanumeric characters or hyphens, and must start and end with an alphanumeric character", id)
	}
	return nil
}

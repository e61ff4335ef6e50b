package lifecycle

import (
	"fmt"
	"strings"
)

// NotInstalledError reports an enable/disable/uninstall against a
// (tenant, plugin) with no ledger row.
type NotInstalledError struct {
	TenantID string
	PluginID string
}

func (e *NotInstalledError) Error() string {
	return fmt.Sprintf("plugin %s is not installed for tenant %s", e.PluginID, e.TenantID)
}

// DependencyInUseError blocks an uninstall while other plugins installed
// for the same tenant still depend on the target.
type DependencyInUseError struct {
	TenantID   string
	PluginID   string
	Dependents []string
}

func (e *DependencyInUseError) Error() string {
	return fmt.Sprintf("cannot uninstall plugin %s for tenant %s: still required by %s",
		e.PluginID, e.TenantID, strings.Join(e.Dependents, ", "))
}

// Package lifecycle orchestrates the plugin install/enable/disable/
// uninstall sequence across the parser, resolver, registry, and ledger,
// and owns the failure semantics: any failure before the ledger write
// leaves no partial state.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/aistack/plugin-registry/pkg/ledger"
	"github.com/aistack/plugin-registry/pkg/pluginpkg"
	"github.com/aistack/plugin-registry/pkg/registry"
	"github.com/aistack/plugin-registry/pkg/resolver"
)

// Result reports a completed install.
type Result struct {
	Descriptor       *pluginpkg.PluginDescriptor `json:"descriptor"`
	Installation     *ledger.Installation        `json:"installation"`
	AlreadyInstalled bool                        `json:"alreadyInstalled"`
	Warnings         []string                    `json:"warnings,omitempty"`
}

// Controller coordinates PackageParser, DependencyResolver, PluginRegistry
// and InstallationLedger. One Controller serves all tenants.
type Controller struct {
	parser      *pluginpkg.Parser
	registry    *registry.Registry
	ledger      *ledger.Store
	marketplace MarketplaceClient
	httpClient  *http.Client
	logger      *slog.Logger
}

// Option customizes a Controller.
type Option func(*Controller)

// WithMarketplace wires the marketplace collaborator used for
// marketplace-referenced package sources.
func WithMarketplace(client MarketplaceClient) Option {
	return func(c *Controller) { c.marketplace = client }
}

// WithHTTPClient overrides the client used for URL package sources.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Controller) { c.httpClient = client }
}

// NewController creates a Controller. A nil logger falls back to
// slog.Default().
func NewController(parser *pluginpkg.Parser, reg *registry.Registry, led *ledger.Store, logger *slog.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		parser:     parser,
		registry:   reg,
		ledger:     led,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Preview parses a package without mutating registry or ledger.
func (c *Controller) Preview(sourceBytes []byte, fileName string) (*pluginpkg.PluginDescriptor, error) {
	return c.parser.Parse(sourceBytes, fileName)
}

// Install runs the full sequence for one tenant and one package: fetch,
// parse, resolve against the registry snapshot, register-if-absent, then
// activate in the ledger. Transitive dependencies are never auto-installed;
// a missing required dependency fails the whole operation. Repeat installs
// are idempotent and return the existing ledger row.
func (c *Controller) Install(ctx context.Context, tenantID string, src Source) (*Result, error) {
	data, fileName, err := c.fetch(ctx, src)
	if err != nil {
		return nil, err
	}

	desc, err := c.parser.Parse(data, fileName)
	if err != nil {
		return nil, err
	}

	res, err := resolver.ResolveOne(desc, c.registry.Snapshot())
	if err != nil {
		c.logger.Error("dependency resolution failed",
			"tenantId", tenantID,
			"pluginId", desc.ID,
			"version", desc.Version,
			"error", err)
		return nil, err
	}
	for _, w := range res.Warnings {
		c.logger.Warn("dependency warning", "tenantId", tenantID, "pluginId", desc.ID, "warning", w)
	}

	// Register-if-absent is the atomic check-and-set that makes concurrent
	// first installs by different tenants converge on one registry entry.
	registeredNow := false
	var replaced *pluginpkg.PluginDescriptor
	if existing, ok := c.registry.Get(desc.ID); !ok {
		registeredNow, err = c.registry.RegisterIfAbsent(desc)
		if err != nil {
			return nil, err
		}
	} else if existing.Version != desc.Version {
		if err := c.registry.Put(desc); err != nil {
			return nil, err
		}
		replaced = existing
	}

	row, created, err := c.ledger.Activate(tenantID, desc, src.RuntimeType())
	if err != nil {
		// Roll back any registry change made by this call so a failed
		// install leaves prior state intact.
		switch {
		case registeredNow:
			if rbErr := c.registry.Remove(desc.ID); rbErr != nil && !errors.Is(rbErr, registry.ErrStillReferenced) {
				c.logger.Error("failed to roll back registry entry",
					"pluginId", desc.ID, "error", rbErr)
			}
		case replaced != nil:
			if rbErr := c.registry.Restore(replaced); rbErr != nil {
				c.logger.Error("failed to restore prior registry version",
					"pluginId", desc.ID, "version", replaced.Version, "error", rbErr)
			}
		}
		return nil, fmt.Errorf("activate plugin %s for tenant %s: %w", desc.ID, tenantID, err)
	}

	c.logger.Info("plugin install completed",
		"tenantId", tenantID,
		"pluginId", desc.ID,
		"version", desc.Version,
		"alreadyInstalled", !created)
	return &Result{
		Descriptor:       desc,
		Installation:     row,
		AlreadyInstalled: !created,
		Warnings:         res.Warnings,
	}, nil
}

// Uninstall removes the tenant's ledger row. While another plugin
// installed for the same tenant declares a required dependency on the
// target, the call fails with DependencyInUseError. When the last tenant
// reference disappears, the plugin leaves the registry too.
func (c *Controller) Uninstall(ctx context.Context, tenantID, pluginID string) (bool, error) {
	row, err := c.ledger.Get(tenantID, pluginID)
	if err != nil {
		return false, err
	}
	if row == nil {
		return false, &NotInstalledError{TenantID: tenantID, PluginID: pluginID}
	}

	dependents, err := c.tenantDependents(tenantID, pluginID)
	if err != nil {
		return false, err
	}
	if len(dependents) > 0 {
		return false, &DependencyInUseError{TenantID: tenantID, PluginID: pluginID, Dependents: dependents}
	}

	existed, err := c.ledger.Deactivate(tenantID, pluginID)
	if err != nil {
		return false, err
	}
	if !existed {
		return false, &NotInstalledError{TenantID: tenantID, PluginID: pluginID}
	}

	count, err := c.ledger.ReferenceCount(pluginID)
	if err != nil {
		return false, err
	}
	if count == 0 {
		if err := c.registry.Remove(pluginID); err != nil && !errors.Is(err, registry.ErrStillReferenced) {
			return false, fmt.Errorf("remove plugin %s from registry: %w", pluginID, err)
		}
	}

	c.logger.Info("plugin uninstalled", "tenantId", tenantID, "pluginId", pluginID)
	return true, nil
}

// Enable marks the tenant's installation ENABLED.
func (c *Controller) Enable(ctx context.Context, tenantID, pluginID string) error {
	return c.setEnabled(tenantID, pluginID, true)
}

// Disable marks the tenant's installation DISABLED. The registry and other
// tenants' rows are untouched.
func (c *Controller) Disable(ctx context.Context, tenantID, pluginID string) error {
	return c.setEnabled(tenantID, pluginID, false)
}

func (c *Controller) setEnabled(tenantID, pluginID string, enabled bool) error {
	found, err := c.ledger.SetEnabled(tenantID, pluginID, enabled)
	if err != nil {
		return err
	}
	if !found {
		return &NotInstalledError{TenantID: tenantID, PluginID: pluginID}
	}
	c.logger.Info("plugin status changed",
		"tenantId", tenantID, "pluginId", pluginID, "enabled", enabled)
	return nil
}

// ListInstalled returns the tenant's ledger rows with filtering and
// offset/limit pagination.
func (c *Controller) ListInstalled(ctx context.Context, tenantID string, filter ledger.Filter, offset, limit int) ([]ledger.Installation, int64, error) {
	return c.ledger.ListForTenant(tenantID, filter, offset, limit)
}

// tenantDependents returns the tenant's installed plugins that declare a
// required dependency on pluginID.
func (c *Controller) tenantDependents(tenantID, pluginID string) ([]string, error) {
	ids, err := c.ledger.PluginIDsForTenant(tenantID)
	if err != nil {
		return nil, err
	}
	snapshot := c.registry.Snapshot()

	var dependents []string
	for _, id := range ids {
		if id == pluginID {
			continue
		}
		desc, ok := snapshot[id]
		if !ok {
			continue
		}
		for _, dep := range desc.Dependencies {
			if dep.ID == pluginID && !dep.Optional {
				dependents = append(dependents, id)
				break
			}
		}
	}
	return dependents, nil
}

// Package registry holds the process-wide map of installed plugin
// descriptors. There is one logical Registry per process, owned by the
// process lifecycle and injected into the lifecycle controller; all
// mutation goes through it under a registry-wide read-write lock.
package registry

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/aistack/plugin-registry/pkg/pluginpkg"
)

// LedgerRefs exposes the installation-ledger reads the registry needs for
// its upgrade and removal policies. Implemented by ledger.Store.
type LedgerRefs interface {
	// ActivePins returns the pluginUniqueIdentifier values of all rows
	// referencing pluginID that are not DISABLED, across all tenants.
	ActivePins(pluginID string) ([]string, error)
	// ReferenceCount returns the number of rows referencing pluginID in
	// any status, across all tenants.
	ReferenceCount(pluginID string) (int64, error)
}

// Entry is one registered plugin.
type Entry struct {
	Descriptor   *pluginpkg.PluginDescriptor
	RegisteredAt time.Time
}

// Stats summarizes the registry contents.
type Stats struct {
	Plugins         int      `json:"plugins"`
	ExtensionPoints int      `json:"extensionPoints"`
	Services        int      `json:"services"`
	ProviderCodes   []string `json:"providerCodes"`
	ToolNames       []string `json:"toolNames"`
}

// Registry is the process-wide plugin registry. Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry

	// Derived indexes, rebuilt on every mutation.
	extensionPoints mapset.Set[string]
	serviceNames    mapset.Set[string]
	providerCodes   mapset.Set[string]
	toolNames       mapset.Set[string]

	refs   LedgerRefs
	store  *Store
	logger *slog.Logger
}

// New creates a Registry. store may be nil for a purely in-memory registry
// (tests); refs must be non-nil before Put or Remove are used.
func New(refs LedgerRefs, store *Store, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries:         make(map[string]Entry),
		extensionPoints: mapset.NewSet[string](),
		serviceNames:    mapset.NewSet[string](),
		providerCodes:   mapset.NewSet[string](),
		toolNames:       mapset.NewSet[string](),
		refs:            refs,
		store:           store,
		logger:          logger,
	}
}

// Load populates the registry from the durable store. Called once at
// startup, before the registry is shared.
func (r *Registry) Load() error {
	if r.store == nil {
		return nil
	}
	entries, err := r.store.LoadAll()
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range entries {
		r.entries[e.Descriptor.ID] = e
	}
	r.rebuildIndexes()
	r.logger.Info("plugin registry loaded", "plugins", len(r.entries))
	return nil
}

// Get returns a copy of the registered descriptor for pluginID.
func (r *Registry) Get(pluginID string) (*pluginpkg.PluginDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[pluginID]
	if !ok {
		return nil, false
	}
	return e.Descriptor.Clone(), true
}

// Snapshot returns a point-in-time copy of all registered descriptors,
// keyed by plugin ID. The caller owns the returned map.
func (r *Registry) Snapshot() map[string]*pluginpkg.PluginDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*pluginpkg.PluginDescriptor, len(r.entries))
	for id, e := range r.entries {
		out[id] = e.Descriptor.Clone()
	}
	return out
}

// RegisterIfAbsent atomically registers the descriptor unless an entry for
// its plugin ID already exists. Returns true if this call registered it.
// This is the single check-and-set that serializes concurrent first
// installs of the same plugin by different tenants.
func (r *Registry) RegisterIfAbsent(desc *pluginpkg.PluginDescriptor) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[desc.ID]; ok {
		return false, nil
	}
	if err := r.insertLocked(desc); err != nil {
		return false, err
	}
	r.logger.Info("plugin registered", "pluginId", desc.ID, "version", desc.Version)
	return true, nil
}

// Put registers a new plugin or upgrades an existing entry to a new
// version. An upgrade is rejected with VersionConflictError unless every
// tenant's active row pinning the old version is compatible with the new
// version (same major version, no downgrade below the pin).
func (r *Registry) Put(desc *pluginpkg.PluginDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.entries[desc.ID]
	if !ok {
		if err := r.insertLocked(desc); err != nil {
			return err
		}
		r.logger.Info("plugin registered", "pluginId", desc.ID, "version", desc.Version)
		return nil
	}
	if existing.Descriptor.Version == desc.Version {
		return nil
	}

	pins, err := r.refs.ActivePins(desc.ID)
	if err != nil {
		return fmt.Errorf("check active pins for %s: %w", desc.ID, err)
	}
	var conflicting []string
	for _, pin := range pins {
		ok, err := pinCompatible(pin, desc.Version)
		if err != nil {
			return fmt.Errorf("check pin %q: %w", pin, err)
		}
		if !ok {
			conflicting = append(conflicting, pin)
		}
	}
	if len(conflicting) > 0 {
		return &VersionConflictError{
			PluginID:   desc.ID,
			OldVersion: existing.Descriptor.Version,
			NewVersion: desc.Version,
			Pins:       conflicting,
		}
	}

	if err := r.insertLocked(desc); err != nil {
		return err
	}
	r.logger.Info("plugin upgraded",
		"pluginId", desc.ID,
		"oldVersion", existing.Descriptor.Version,
		"newVersion", desc.Version)
	return nil
}

// Restore puts desc back as the entry for its plugin ID, bypassing the
// upgrade pin checks. Used to undo an upgrade after a failed activation.
func (r *Registry) Restore(desc *pluginpkg.PluginDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.insertLocked(desc); err != nil {
		return err
	}
	r.logger.Info("plugin registry entry restored", "pluginId", desc.ID, "version", desc.Version)
	return nil
}

// Remove deletes the entry for pluginID. It fails with ErrStillReferenced
// while any ledger row, in any status and for any tenant, references it.
func (r *Registry) Remove(pluginID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[pluginID]; !ok {
		return nil
	}
	count, err := r.refs.ReferenceCount(pluginID)
	if err != nil {
		return fmt.Errorf("count references for %s: %w", pluginID, err)
	}
	if count > 0 {
		return fmt.Errorf("remove plugin %s (%d references): %w", pluginID, count, ErrStillReferenced)
	}
	if r.store != nil {
		if err := r.store.Delete(pluginID); err != nil {
			return fmt.Errorf("delete registry record %s: %w", pluginID, err)
		}
	}
	delete(r.entries, pluginID)
	r.rebuildIndexes()
	r.logger.Info("plugin removed from registry", "pluginId", pluginID)
	return nil
}

// Stats returns a summary of the registry contents.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	providers := r.providerCodes.ToSlice()
	tools := r.toolNames.ToSlice()
	return Stats{
		Plugins:         len(r.entries),
		ExtensionPoints: r.extensionPoints.Cardinality(),
		Services:        r.serviceNames.Cardinality(),
		ProviderCodes:   providers,
		ToolNames:       tools,
	}
}

func (r *Registry) insertLocked(desc *pluginpkg.PluginDescriptor) error {
	entry := Entry{Descriptor: desc.Clone(), RegisteredAt: time.Now()}
	if r.store != nil {
		if err := r.store.Save(entry); err != nil {
			return fmt.Errorf("persist registry entry %s: %w", desc.ID, err)
		}
	}
	r.entries[desc.ID] = entry
	r.rebuildIndexes()
	return nil
}

func (r *Registry) rebuildIndexes() {
	r.extensionPoints.Clear()
	r.serviceNames.Clear()
	r.providerCodes.Clear()
	r.toolNames.Clear()
	for _, e := range r.entries {
		for _, ep := range e.Descriptor.ExtensionPoints {
			r.extensionPoints.Add(ep.Point)
		}
		for _, s := range e.Descriptor.Services {
			r.serviceNames.Add(s.Name)
		}
		for _, c := range e.Descriptor.Capabilities {
			switch c.Kind {
			case pluginpkg.CapabilityModelProvider:
				r.providerCodes.Add(c.ProviderCode)
			case pluginpkg.CapabilityTool:
				r.toolNames.Add(c.ToolName)
			}
		}
	}
}

// pinCompatible reports whether newVersion can serve an installation
// pinned to pin ("pluginId:version"): same major version and not a
// downgrade below the pinned version.
func pinCompatible(pin, newVersion string) (bool, error) {
	idx := strings.LastIndex(pin, ":")
	if idx < 0 {
		return false, fmt.Errorf("malformed pin %q", pin)
	}
	pinned, err := semver.NewVersion(pin[idx+1:])
	if err != nil {
		return false, fmt.Errorf("invalid pinned version in %q: %w", pin, err)
	}
	next, err := semver.NewVersion(newVersion)
	if err != nil {
		return false, fmt.Errorf("invalid upgrade version %q: %w", newVersion, err)
	}
	return next.Major() == pinned.Major() && !next.LessThan(pinned), nil
}

// Package ledger is the tenant-scoped installation record: which plugins a
// tenant has activated, pinned to which version, plus per-capability
// projection rows for model providers and tools. It is naturally
// partitioned by tenant and never holds process-wide state.
package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/aistack/plugin-registry/pkg/pluginpkg"
)

// Store provides database operations for the installation ledger.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// NewStore creates a Store. A nil logger falls back to slog.Default().
func NewStore(db *gorm.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// AutoMigrate creates or updates the ledger tables.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&Installation{}, &ModelProviderInstallation{}, &ToolInstallation{})
}

// Filter narrows ListForTenant results.
type Filter struct {
	Status      Status
	RuntimeType string
	NameQuery   string // substring match on plugin_id
}

// Activate records the tenant's installation of the descriptor. It is
// idempotent: an existing (tenant, plugin) row is returned unchanged, so a
// repeat install never duplicates rows or overwrites tenant-chosen config.
// The generic row and all capability projections are written in one
// transaction. Returns the row and whether this call created it.
func (s *Store) Activate(tenantID string, desc *pluginpkg.PluginDescriptor, runtimeType string) (*Installation, bool, error) {
	var row Installation
	created := false

	err := s.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Where("tenant_id = ? AND plugin_id = ?", tenantID, desc.ID).First(&row).Error
		if err == nil {
			return nil
		}
		if err != gorm.ErrRecordNotFound {
			return fmt.Errorf("look up installation: %w", err)
		}

		// A plugin with no provider or tool capability has nothing to
		// enable; it rests at INSTALLED.
		status := StatusInstalled
		if len(desc.Capabilities) > 0 {
			status = StatusEnabled
		}

		now := time.Now()
		row = Installation{
			ID:                     uuid.New().String(),
			TenantID:               tenantID,
			PluginID:               desc.ID,
			PluginUniqueIdentifier: desc.UniqueIdentifier(),
			RuntimeType:            runtimeType,
			Status:                 status,
			CreatedAt:              now,
			UpdatedAt:              now,
		}
		if err := tx.Create(&row).Error; err != nil {
			return fmt.Errorf("create installation row: %w", err)
		}

		if provider, ok := desc.ModelProvider(); ok {
			mpi := ModelProviderInstallation{
				ID:        uuid.New().String(),
				TenantID:  tenantID,
				PluginID:  desc.ID,
				Provider:  provider.ProviderCode,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := tx.Create(&mpi).Error; err != nil {
				return fmt.Errorf("create model provider projection %s: %w", provider.ProviderCode, err)
			}
		}
		if tool, ok := desc.Tool(); ok {
			ti := ToolInstallation{
				ID:        uuid.New().String(),
				TenantID:  tenantID,
				PluginID:  desc.ID,
				ToolName:  tool.ToolName,
				Enabled:   true,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := tx.Create(&ti).Error; err != nil {
				return fmt.Errorf("create tool projection %s: %w", tool.ToolName, err)
			}
		}

		created = true
		return nil
	})
	if err != nil {
		// A concurrent Activate for the same (tenant, plugin) on another
		// replica can win the insert between the look-up and the Create.
		// The loser's duplicate-key error resolves to the winner's row.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			existing, getErr := s.Get(tenantID, desc.ID)
			if getErr == nil && existing != nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}

	if created {
		s.logger.Info("installation activated",
			"tenantId", tenantID,
			"pluginId", desc.ID,
			"pluginUniqueIdentifier", row.PluginUniqueIdentifier)
	}
	return &row, created, nil
}

// Deactivate removes the generic row and every capability projection for
// (tenant, plugin) in one transaction. Returns false if no row existed.
func (s *Store) Deactivate(tenantID, pluginID string) (bool, error) {
	existed := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("tenant_id = ? AND plugin_id = ?", tenantID, pluginID).Delete(&Installation{})
		if res.Error != nil {
			return fmt.Errorf("delete installation row: %w", res.Error)
		}
		existed = res.RowsAffected > 0
		if !existed {
			return nil
		}
		if err := tx.Where("tenant_id = ? AND plugin_id = ?", tenantID, pluginID).Delete(&ModelProviderInstallation{}).Error; err != nil {
			return fmt.Errorf("delete model provider projection: %w", err)
		}
		if err := tx.Where("tenant_id = ? AND plugin_id = ?", tenantID, pluginID).Delete(&ToolInstallation{}).Error; err != nil {
			return fmt.Errorf("delete tool projection: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if existed {
		s.logger.Info("installation deactivated", "tenantId", tenantID, "pluginId", pluginID)
	}
	return existed, nil
}

// SetEnabled toggles the row between ENABLED and DISABLED without touching
// the registry or other tenants. Returns false if no row existed. A tool
// projection follows the generic row's state.
func (s *Store) SetEnabled(tenantID, pluginID string, enabled bool) (bool, error) {
	status := StatusDisabled
	if enabled {
		status = StatusEnabled
	}
	found := false
	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&Installation{}).
			Where("tenant_id = ? AND plugin_id = ?", tenantID, pluginID).
			Updates(map[string]any{"status": status, "updated_at": time.Now()})
		if res.Error != nil {
			return fmt.Errorf("update installation status: %w", res.Error)
		}
		found = res.RowsAffected > 0
		if !found {
			return nil
		}
		err := tx.Model(&ToolInstallation{}).
			Where("tenant_id = ? AND plugin_id = ?", tenantID, pluginID).
			Updates(map[string]any{"enabled": enabled, "updated_at": time.Now()}).Error
		if err != nil {
			return fmt.Errorf("update tool projection: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return found, nil
}

// Get retrieves the row for (tenant, plugin). Returns nil, nil if absent.
func (s *Store) Get(tenantID, pluginID string) (*Installation, error) {
	var row Installation
	err := s.db.Where("tenant_id = ? AND plugin_id = ?", tenantID, pluginID).First(&row).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get installation: %w", err)
	}
	return &row, nil
}

// ListForTenant returns the tenant's rows matching filter, newest first
// with plugin_id as the tie-break, plus the total match count for
// pagination.
func (s *Store) ListForTenant(tenantID string, filter Filter, offset, limit int) ([]Installation, int64, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	buildQuery := func(base *gorm.DB) *gorm.DB {
		q := base.Model(&Installation{}).Where("tenant_id = ?", tenantID)
		if filter.Status != "" {
			q = q.Where("status = ?", filter.Status)
		}
		if filter.RuntimeType != "" {
			q = q.Where("runtime_type = ?", filter.RuntimeType)
		}
		if filter.NameQuery != "" {
			q = q.Where("plugin_id LIKE ?", "%"+filter.NameQuery+"%")
		}
		return q
	}

	var total int64
	if err := buildQuery(s.db).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count installations: %w", err)
	}

	var rows []Installation
	err := buildQuery(s.db).
		Order("created_at DESC, plugin_id ASC").
		Offset(offset).
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list installations: %w", err)
	}
	return rows, total, nil
}

// PluginIDsForTenant returns every plugin ID the tenant has a row for.
func (s *Store) PluginIDsForTenant(tenantID string) ([]string, error) {
	var ids []string
	err := s.db.Model(&Installation{}).
		Where("tenant_id = ?", tenantID).
		Order("plugin_id ASC").
		Pluck("plugin_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list tenant plugin ids: %w", err)
	}
	return ids, nil
}

// ModelProvidersForTenant returns the tenant's provider projections.
func (s *Store) ModelProvidersForTenant(tenantID string) ([]ModelProviderInstallation, error) {
	var rows []ModelProviderInstallation
	err := s.db.Where("tenant_id = ?", tenantID).Order("provider ASC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list model provider projections: %w", err)
	}
	return rows, nil
}

// ToolsForTenant returns the tenant's tool projections.
func (s *Store) ToolsForTenant(tenantID string) ([]ToolInstallation, error) {
	var rows []ToolInstallation
	err := s.db.Where("tenant_id = ?", tenantID).Order("tool_name ASC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list tool projections: %w", err)
	}
	return rows, nil
}

// ActivePins implements registry.LedgerRefs: the pinned unique
// identifiers of all non-DISABLED rows referencing pluginID, any tenant.
// INSTALLED rows pin too; dependents rely on them even though there is
// nothing to enable.
func (s *Store) ActivePins(pluginID string) ([]string, error) {
	var pins []string
	err := s.db.Model(&Installation{}).
		Where("plugin_id = ? AND status <> ?", pluginID, StatusDisabled).
		Pluck("plugin_unique_identifier", &pins).Error
	if err != nil {
		return nil, fmt.Errorf("list active pins: %w", err)
	}
	return pins, nil
}

// ReferenceCount implements registry.LedgerRefs: rows referencing
// pluginID in any status, any tenant.
func (s *Store) ReferenceCount(pluginID string) (int64, error) {
	var count int64
	err := s.db.Model(&Installation{}).Where("plugin_id = ?", pluginID).Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count plugin references: %w", err)
	}
	return count, nil
}

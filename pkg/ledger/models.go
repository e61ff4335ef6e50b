package ledger

import "time"

// Status is the tenant-visible activation state of an installation.
// Plugins with no provider or tool capability rest at INSTALLED; plugins
// with an enableable surface start ENABLED and toggle to DISABLED.
type Status string

const (
	StatusInstalled Status = "installed"
	StatusEnabled   Status = "enabled"
	StatusDisabled  Status = "disabled"
)

// Runtime types recorded on the generic row, derived from the package
// source that produced the install.
const (
	RuntimeLocal       = "local"
	RuntimeRemote      = "remote"
	RuntimeMarketplace = "marketplace"
)

// Installation is the GORM model for the generic per-tenant ledger row.
// One row per (tenant, plugin); capability projections share its identity.
type Installation struct {
	ID                     string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	TenantID               string    `gorm:"column:tenant_id;uniqueIndex:idx_inst_tenant_plugin,priority:1;index:idx_inst_tenant_created,priority:1;not null"`
	PluginID               string    `gorm:"column:plugin_id;uniqueIndex:idx_inst_tenant_plugin,priority:2;not null"`
	PluginUniqueIdentifier string    `gorm:"column:plugin_unique_identifier;index:idx_inst_pin;not null"`
	RuntimeType            string    `gorm:"column:runtime_type;not null;default:local"`
	Status                 Status    `gorm:"column:status;index:idx_inst_status;not null"`
	Meta                   string    `gorm:"column:meta;type:text"`
	CreatedAt              time.Time `gorm:"column:created_at;index:idx_inst_tenant_created,priority:2;not null"`
	UpdatedAt              time.Time `gorm:"column:updated_at;not null"`
}

// TableName returns the GORM table name.
func (Installation) TableName() string { return "plugin_installations" }

// Enabled reports whether the row is in the ENABLED state.
func (i *Installation) Enabled() bool { return i.Status == StatusEnabled }

// ModelProviderInstallation is the capability projection for plugins that
// declare a model provider. Created and removed atomically with the
// generic row.
type ModelProviderInstallation struct {
	ID        string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	TenantID  string    `gorm:"column:tenant_id;uniqueIndex:idx_mpi_tenant_provider,priority:1;not null"`
	PluginID  string    `gorm:"column:plugin_id;index:idx_mpi_plugin;not null"`
	Provider  string    `gorm:"column:provider;uniqueIndex:idx_mpi_tenant_provider,priority:2;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

// TableName returns the GORM table name.
func (ModelProviderInstallation) TableName() string { return "model_provider_installations" }

// ToolInstallation is the capability projection for plugins that declare a
// tool. Config holds tenant-chosen tool configuration as a JSON document.
type ToolInstallation struct {
	ID        string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	TenantID  string    `gorm:"column:tenant_id;uniqueIndex:idx_ti_tenant_tool,priority:1;not null"`
	PluginID  string    `gorm:"column:plugin_id;index:idx_ti_plugin;not null"`
	ToolName  string    `gorm:"column:tool_name;uniqueIndex:idx_ti_tenant_tool,priority:2;not null"`
	Config    string    `gorm:"column:config;type:text"`
	Enabled   bool      `gorm:"column:enabled;not null;default:true"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

// TableName returns the GORM table name.
func (ToolInstallation) TableName() string { return "tool_installations" }

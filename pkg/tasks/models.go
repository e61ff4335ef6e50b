package tasks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aistack/plugin-registry/pkg/lifecycle"
)

// TaskState represents the lifecycle state of a batch install task.
type TaskState string

const (
	TaskStatePending    TaskState = "pending"
	TaskStateInProgress TaskState = "in_progress"
	TaskStateCompleted  TaskState = "completed"
	TaskStateFailed     TaskState = "failed"
)

// InstallTask is the GORM model for a batch install. Sources holds the
// ordered package references as a JSON document; packages are processed
// strictly in that order.
type InstallTask struct {
	ID               string    `gorm:"primaryKey;column:id;type:varchar(36)"`
	TenantID         string    `gorm:"column:tenant_id;index:idx_task_tenant;not null"`
	State            TaskState `gorm:"column:state;index:idx_task_state;not null;default:pending"`
	TotalPlugins     int       `gorm:"column:total_plugins;not null"`
	CompletedPlugins int       `gorm:"column:completed_plugins;not null;default:0"`
	Sources          string    `gorm:"column:sources;type:text;not null"`
	ErrorMessage     string    `gorm:"column:error_message"`
	CreatedAt        time.Time `gorm:"column:created_at;not null"`
	UpdatedAt        time.Time `gorm:"column:updated_at;not null"`
	FinishedAt       *time.Time `gorm:"column:finished_at"`
}

// TableName returns the GORM table name.
func (InstallTask) TableName() string { return "plugin_install_tasks" }

// IsTerminal returns true once the task is COMPLETED or FAILED.
func (t *InstallTask) IsTerminal() bool {
	return t.State == TaskStateCompleted || t.State == TaskStateFailed
}

// SourceList decodes the ordered package references.
func (t *InstallTask) SourceList() ([]lifecycle.Source, error) {
	var sources []lifecycle.Source
	if err := json.Unmarshal([]byte(t.Sources), &sources); err != nil {
		return nil, fmt.Errorf("decode task sources: %w", err)
	}
	return sources, nil
}

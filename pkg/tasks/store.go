package tasks

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/aistack/plugin-registry/pkg/lifecycle"
)

// ErrEmptyBatch rejects a batch submission with no package sources.
var ErrEmptyBatch = errors.New("batch install requires at least one package source")

// Store provides database operations for install tasks.
type Store struct {
	db *gorm.DB
}

// NewStore creates a Store.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates or updates the plugin_install_tasks table.
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&InstallTask{})
}

// Create inserts a new PENDING task for the ordered package sources.
func (s *Store) Create(tenantID string, sources []lifecycle.Source) (*InstallTask, error) {
	if len(sources) == 0 {
		return nil, ErrEmptyBatch
	}
	raw, err := json.Marshal(sources)
	if err != nil {
		return nil, fmt.Errorf("encode task sources: %w", err)
	}
	now := time.Now()
	task := InstallTask{
		ID:           uuid.New().String(),
		TenantID:     tenantID,
		State:        TaskStatePending,
		TotalPlugins: len(sources),
		Sources:      string(raw),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.db.Create(&task).Error; err != nil {
		return nil, fmt.Errorf("create install task: %w", err)
	}
	return &task, nil
}

// Get retrieves a task by ID. Returns nil, nil if absent.
func (s *Store) Get(taskID string) (*InstallTask, error) {
	var task InstallTask
	if err := s.db.First(&task, "id = ?", taskID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("get install task: %w", err)
	}
	return &task, nil
}

// ClaimNext atomically picks the oldest pending task and transitions it to
// IN_PROGRESS. Returns nil if no tasks are pending.
func (s *Store) ClaimNext() (*InstallTask, error) {
	var task InstallTask

	err := s.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Where("state = ?", TaskStatePending).
			Order("created_at ASC").
			Limit(1).
			First(&task).Error
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil
			}
			return err
		}
		return tx.Model(&InstallTask{}).
			Where("id = ? AND state = ?", task.ID, TaskStatePending).
			Updates(map[string]any{
				"state":      TaskStateInProgress,
				"updated_at": time.Now(),
			}).Error
	})
	if err != nil {
		return nil, fmt.Errorf("claim install task: %w", err)
	}
	if task.ID == "" {
		return nil, nil
	}

	if err := s.db.First(&task, "id = ?", task.ID).Error; err != nil {
		return nil, fmt.Errorf("reload claimed task: %w", err)
	}
	return &task, nil
}

// IncrementCompleted bumps the progress counter after one successful
// package install. Progress only ever moves forward.
func (s *Store) IncrementCompleted(taskID string) error {
	err := s.db.Model(&InstallTask{}).
		Where("id = ?", taskID).
		Updates(map[string]any{
			"completed_plugins": gorm.Expr("completed_plugins + 1"),
			"updated_at":        time.Now(),
		}).Error
	if err != nil {
		return fmt.Errorf("increment task progress: %w", err)
	}
	return nil
}

// Complete marks a task COMPLETED.
func (s *Store) Complete(taskID string) error {
	now := time.Now()
	err := s.db.Model(&InstallTask{}).
		Where("id = ?", taskID).
		Updates(map[string]any{
			"state":       TaskStateCompleted,
			"updated_at":  now,
			"finished_at": now,
		}).Error
	if err != nil {
		return fmt.Errorf("complete install task: %w", err)
	}
	return nil
}

// Fail marks a task FAILED with the message naming the failing package.
func (s *Store) Fail(taskID, message string) error {
	now := time.Now()
	err := s.db.Model(&InstallTask{}).
		Where("id = ?", taskID).
		Updates(map[string]any{
			"state":         TaskStateFailed,
			"error_message": message,
			"updated_at":    now,
			"finished_at":   now,
		}).Error
	if err != nil {
		return fmt.Errorf("fail install task: %w", err)
	}
	return nil
}

// ResetStuck transitions in_progress tasks whose last update is older than
// the timeout back to pending. Completed progress is preserved; the worker
// resumes from the first unprocessed package, which is safe because
// install is idempotent.
func (s *Store) ResetStuck(timeout time.Duration) (int64, error) {
	cutoff := time.Now().Add(-timeout)
	res := s.db.Model(&InstallTask{}).
		Where("state = ? AND updated_at < ?", TaskStateInProgress, cutoff).
		Updates(map[string]any{
			"state":      TaskStatePending,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("reset stuck tasks: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteOlderThan removes terminal tasks finished before the cutoff.
func (s *Store) DeleteOlderThan(cutoff time.Time) (int64, error) {
	res := s.db.Where("state IN ? AND finished_at < ?",
		[]TaskState{TaskStateCompleted, TaskStateFailed}, cutoff).
		Delete(&InstallTask{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete old tasks: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ListForTenant returns the tenant's tasks, newest first.
func (s *Store) ListForTenant(tenantID string, limit int) ([]InstallTask, error) {
	if limit <= 0 {
		limit = 20
	}
	var records []InstallTask
	err := s.db.Where("tenant_id = ?", tenantID).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list install tasks: %w", err)
	}
	return records, nil
}

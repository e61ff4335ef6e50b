// Package tasks tracks asynchronous batch installs. A single worker
// processes each task's packages strictly in submission order and fails
// fast on the first error, since later packages may depend on the failed
// one.
package tasks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aistack/plugin-registry/pkg/lifecycle"
)

// Installer is the slice of the lifecycle controller the tracker needs.
type Installer interface {
	Install(ctx context.Context, tenantID string, src lifecycle.Source) (*lifecycle.Result, error)
}

// Tracker manages batch install tasks: submission, progress, and the
// worker loop that drives them.
type Tracker struct {
	store     *Store
	installer Installer
	cfg       *Config
	logger    *slog.Logger
	wg        sync.WaitGroup
}

// NewTracker creates a Tracker. A nil logger falls back to slog.Default().
func NewTracker(store *Store, installer Installer, cfg *Config, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Tracker{store: store, installer: installer, cfg: cfg, logger: logger}
}

// Submit creates a PENDING task for the ordered package sources and
// returns it immediately; the worker picks it up asynchronously.
func (tr *Tracker) Submit(tenantID string, sources []lifecycle.Source) (*InstallTask, error) {
	task, err := tr.store.Create(tenantID, sources)
	if err != nil {
		return nil, err
	}
	tr.logger.Info("batch install submitted",
		"taskId", task.ID,
		"tenantId", tenantID,
		"totalPlugins", task.TotalPlugins)
	return task, nil
}

// GetStatus returns a read-only snapshot of the task. Returns nil, nil if
// the task does not exist.
func (tr *Tracker) GetStatus(taskID string) (*InstallTask, error) {
	return tr.store.Get(taskID)
}

// ListForTenant returns the tenant's most recent tasks.
func (tr *Tracker) ListForTenant(tenantID string, limit int) ([]InstallTask, error) {
	return tr.store.ListForTenant(tenantID, limit)
}

// Run starts the worker and cleanup loops. It blocks until the context is
// cancelled, then waits for in-flight work to stop.
func (tr *Tracker) Run(ctx context.Context) {
	if !tr.cfg.Enabled {
		tr.logger.Info("install task worker disabled")
		return
	}
	tr.logger.Info("install task worker starting",
		"pollInterval", tr.cfg.PollInterval.String())

	tr.wg.Add(1)
	go func() {
		defer tr.wg.Done()
		tr.cleanupLoop(ctx)
	}()

	tr.wg.Add(1)
	go func() {
		defer tr.wg.Done()
		tr.workerLoop(ctx)
	}()

	<-ctx.Done()
	tr.wg.Wait()
	tr.logger.Info("install task worker stopped")
}

// workerLoop is the single worker: one task at a time, oldest first.
func (tr *Tracker) workerLoop(ctx context.Context) {
	ticker := time.NewTicker(tr.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tr.processOne(ctx)
		}
	}
}

// ProcessPending drains all pending tasks synchronously. Used by tests
// and by callers that want deterministic completion without the poll loop.
func (tr *Tracker) ProcessPending(ctx context.Context) {
	for {
		if !tr.processOne(ctx) {
			return
		}
	}
}

// processOne claims and runs a single task. Returns false when no task
// was pending.
func (tr *Tracker) processOne(ctx context.Context) bool {
	task, err := tr.store.ClaimNext()
	if err != nil {
		tr.logger.Error("failed to claim install task", "error", err)
		return false
	}
	if task == nil {
		return false
	}

	sources, err := task.SourceList()
	if err != nil {
		tr.logger.Error("invalid task sources", "taskId", task.ID, "error", err)
		if failErr := tr.store.Fail(task.ID, err.Error()); failErr != nil {
			tr.logger.Error("failed to mark task as failed", "taskId", task.ID, "error", failErr)
		}
		return true
	}

	tr.logger.Info("processing install task",
		"taskId", task.ID,
		"tenantId", task.TenantID,
		"totalPlugins", task.TotalPlugins,
		"alreadyCompleted", task.CompletedPlugins)

	// Resume after the last completed package; install is idempotent so a
	// recovered task never duplicates ledger rows.
	for i := task.CompletedPlugins; i < len(sources); i++ {
		// Cooperative cancellation check before each package. A shutdown
		// mid-batch leaves the task in_progress for stuck recovery.
		if ctx.Err() != nil {
			tr.logger.Info("worker stopping mid-task", "taskId", task.ID, "completed", i)
			return false
		}

		src := sources[i]
		if _, err := tr.installer.Install(ctx, task.TenantID, src); err != nil {
			msg := fmt.Sprintf("package %s (%d of %d): %v", src.Describe(), i+1, len(sources), err)
			tr.logger.Error("install task failed",
				"taskId", task.ID,
				"tenantId", task.TenantID,
				"package", src.Describe(),
				"error", err)
			if failErr := tr.store.Fail(task.ID, msg); failErr != nil {
				tr.logger.Error("failed to mark task as failed", "taskId", task.ID, "error", failErr)
			}
			return true
		}
		if err := tr.store.IncrementCompleted(task.ID); err != nil {
			tr.logger.Error("failed to record task progress", "taskId", task.ID, "error", err)
		}
	}

	if err := tr.store.Complete(task.ID); err != nil {
		tr.logger.Error("failed to mark task as complete", "taskId", task.ID, "error", err)
		return true
	}
	tr.logger.Info("install task completed", "taskId", task.ID, "totalPlugins", task.TotalPlugins)
	return true
}

// cleanupLoop periodically recovers stuck tasks and prunes old terminal
// ones.
func (tr *Tracker) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if tr.cfg.StuckTimeout > 0 {
				recovered, err := tr.store.ResetStuck(tr.cfg.StuckTimeout)
				if err != nil {
					tr.logger.Error("failed to reset stuck tasks", "error", err)
				} else if recovered > 0 {
					tr.logger.Info("recovered stuck tasks", "count", recovered)
				}
			}
			if tr.cfg.RetentionDays > 0 {
				cutoff := time.Now().AddDate(0, 0, -tr.cfg.RetentionDays)
				deleted, err := tr.store.DeleteOlderThan(cutoff)
				if err != nil {
					tr.logger.Error("failed to delete old tasks", "error", err)
				} else if deleted > 0 {
					tr.logger.Info("deleted old tasks", "count", deleted)
				}
			}
		}
	}
}

package db

import (
	"context"
	"fmt"
	"hash/crc32"
	"os"
	"time"

	"gorm.io/gorm"
)

// MigrationLocker serializes schema migrations so that multiple plugin
// server replicas starting at once never run AutoMigrate concurrently.
type MigrationLocker interface {
	// WithLock executes fn while holding the migration lock. It blocks
	// until the lock is acquired, then releases it after fn returns.
	WithLock(ctx context.Context, fn func() error) error
}

// NewMigrationLocker creates a MigrationLocker appropriate for the
// database dialect. PostgreSQL uses advisory locks; sqlite and mysql use
// a table-based fallback. The lock table is created immediately for the
// fallback strategy.
func NewMigrationLocker(gormDB *gorm.DB) MigrationLocker {
	if gormDB == nil {
		return &noopMigrationLock{}
	}
	if gormDB.Dialector.Name() == "postgres" {
		return &pgAdvisoryLock{
			db:     gormDB,
			lockID: int64(crc32.ChecksumIEEE([]byte("plugin-server-migration"))),
		}
	}
	lock := &tableMigrationLock{db: gormDB}
	// Create the lock table up front so concurrent callers never hit
	// "no such table" on their first WithLock call.
	_ = gormDB.AutoMigrate(&migrationLockRecord{})
	return lock
}

// noopMigrationLock is used when no database is configured.
type noopMigrationLock struct{}

func (n *noopMigrationLock) WithLock(_ context.Context, fn func() error) error {
	return fn()
}

// pgAdvisoryLock uses PostgreSQL advisory locks.
type pgAdvisoryLock struct {
	db     *gorm.DB
	lockID int64
}

func (l *pgAdvisoryLock) WithLock(ctx context.Context, fn func() error) error {
	if err := l.db.WithContext(ctx).Exec("SELECT pg_advisory_lock(?)", l.lockID).Error; err != nil {
		return fmt.Errorf("acquire migration advisory lock: %w", err)
	}
	defer func() {
		_ = l.db.Exec("SELECT pg_advisory_unlock(?)", l.lockID).Error
	}()
	return fn()
}

// migrationLockRecord is the table-based lock row for non-PostgreSQL
// databases.
type migrationLockRecord struct {
	ID       string    `gorm:"primaryKey;column:id"`
	LockedAt time.Time `gorm:"column:locked_at"`
	LockedBy string    `gorm:"column:locked_by"`
}

func (migrationLockRecord) TableName() string { return "plugin_migration_lock" }

// tableMigrationLock uses INSERT-or-fail semantics on a lock row, with
// stale lock cleanup for crash recovery.
type tableMigrationLock struct {
	db *gorm.DB
}

func (l *tableMigrationLock) WithLock(ctx context.Context, fn func() error) error {
	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "unknown"
	}

	lockRow := migrationLockRecord{
		ID:       "migration",
		LockedBy: hostname,
	}

	const maxRetries = 30
	const retryInterval = 1 * time.Second
	const staleLockAge = 5 * time.Minute

	acquired := false
	for i := 0; i < maxRetries; i++ {
		// A holder that crashed leaves its row behind; reap it once stale.
		l.db.WithContext(ctx).Where("id = ? AND locked_at < ?", "migration", time.Now().Add(-staleLockAge)).Delete(&migrationLockRecord{})

		lockRow.LockedAt = time.Now()

		result := l.db.WithContext(ctx).Create(&lockRow)
		if result.Error == nil {
			acquired = true
			break
		}

		if i == maxRetries-1 {
			return fmt.Errorf("acquire migration lock after %d retries: %w", maxRetries, result.Error)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryInterval):
		}
	}

	if !acquired {
		return fmt.Errorf("acquire migration lock")
	}

	defer func() {
		l.db.Where("id = ?", "migration").Delete(&migrationLockRecord{})
	}()

	return fn()
}

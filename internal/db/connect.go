// Package db establishes the GORM database connection for the plugin
// server. SQLite is the zero-config default; postgres and mysql cover
// shared deployments.
package db

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Supported database types.
const (
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
	TypeMySQL    = "mysql"
)

// Config holds connection parameters.
type Config struct {
	// Type is one of sqlite, postgres, or mysql.
	Type string
	// DSN is the driver-specific connection string. For sqlite it is a
	// file path or ":memory:".
	DSN string
	// MaxOpenConns bounds the connection pool. Zero keeps the driver
	// default; sqlite is always clamped to one connection.
	MaxOpenConns int
}

// Connect opens the database described by cfg and configures the pool.
func Connect(cfg Config) (*gorm.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	var dialector gorm.Dialector
	switch cfg.Type {
	case TypeSQLite, "":
		dialector = sqlite.Open(cfg.DSN)
	case TypePostgres:
		dialector = postgres.Open(cfg.DSN)
	case TypeMySQL:
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type %q (expected sqlite, postgres, or mysql)", cfg.Type)
	}

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
		// Duplicate-key detection in the ledger relies on translated
		// driver errors.
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to %s database: %w", cfg.Type, err)
	}

	sqlDB, err := gormDB.DB()
	if err != nil {
		return nil, fmt.Errorf("get underlying connection pool: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if cfg.Type == TypeSQLite || cfg.Type == "" {
		// SQLite serializes writers; multiple pooled connections only
		// produce SQLITE_BUSY errors, and each :memory: connection would
		// see a different database.
		maxOpen = 1
	}
	if maxOpen > 0 {
		sqlDB.SetMaxOpenConns(maxOpen)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	return gormDB, nil
}

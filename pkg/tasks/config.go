package tasks

import (
	"os"
	"strconv"
	"time"
)

// Config controls the install task worker.
type Config struct {
	PollInterval  time.Duration // How often the worker polls for pending tasks. Default 1s.
	StuckTimeout  time.Duration // Max time a task can be in_progress before recovery. Default 10m.
	RetentionDays int           // How long to keep terminal tasks. Default 7.
	Enabled       bool          // Whether the worker runs. Default true.
}

// DefaultConfig returns the default task worker configuration.
func DefaultConfig() *Config {
	return &Config{
		PollInterval:  time.Second,
		StuckTimeout:  10 * time.Minute,
		RetentionDays: 7,
		Enabled:       true,
	}
}

// ConfigFromEnv loads config from environment variables:
// PLUGIN_TASK_POLL_INTERVAL_SECONDS, PLUGIN_TASK_STUCK_TIMEOUT_MINUTES,
// PLUGIN_TASK_RETENTION_DAYS, PLUGIN_TASK_ENABLED.
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("PLUGIN_TASK_POLL_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.PollInterval = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("PLUGIN_TASK_STUCK_TIMEOUT_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.StuckTimeout = time.Duration(n) * time.Minute
		}
	}
	if v := os.Getenv("PLUGIN_TASK_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RetentionDays = n
		}
	}
	if v := os.Getenv("PLUGIN_TASK_ENABLED"); v != "" {
		cfg.Enabled, _ = strconv.ParseBool(v)
	}

	return cfg
}

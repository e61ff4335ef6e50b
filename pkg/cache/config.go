package cache

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds configuration for the response caching layer.
type Config struct {
	// Enabled controls whether caching is active. When false, no
	// middleware is applied and all requests pass through uncached.
	Enabled bool

	// RegistryTTL is the TTL for registry listing and stats responses.
	RegistryTTL time.Duration

	// ProjectionTTL is the TTL for per-tenant provider and tool
	// projection responses.
	ProjectionTTL time.Duration

	// MaxSize is the maximum number of entries per cache instance.
	MaxSize int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Enabled:       true,
		RegistryTTL:   60 * time.Second,
		ProjectionTTL: 30 * time.Second,
		MaxSize:       1000,
	}
}

// ConfigFromEnv reads cache configuration from environment variables,
// falling back to defaults for any unset variable.
//
// Environment variables:
//   - PLUGIN_CACHE_ENABLED: "true" or "false" (default: "true")
//   - PLUGIN_CACHE_REGISTRY_TTL: duration in seconds (default: 60)
//   - PLUGIN_CACHE_PROJECTION_TTL: duration in seconds (default: 30)
//   - PLUGIN_CACHE_MAX_SIZE: max entries per cache (default: 1000)
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()

	if v := os.Getenv("PLUGIN_CACHE_ENABLED"); v != "" {
		cfg.Enabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("PLUGIN_CACHE_REGISTRY_TTL"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.RegistryTTL = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("PLUGIN_CACHE_PROJECTION_TTL"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.ProjectionTTL = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv("PLUGIN_CACHE_MAX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxSize = n
		}
	}

	return cfg
}

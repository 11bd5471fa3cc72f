// Package config loads daemon configuration from the process environment.
// Every variable carries a BATCHCORE_ prefix and a usable default, so an
// empty environment yields a local development setup.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the daemon's runtime configuration.
type Config struct {
	// ListenAddr is the HTTP bind address for metrics and expvar.
	ListenAddr string

	// LogLevel selects the zap level: debug|info|warn|error.
	LogLevel string

	// Storage selects the persistent store backend: memory|sqlite|postgres.
	// Backend-specific settings are read by the store factory itself.
	StorageDriver string

	// BlobDriver selects the blob backend: fs|s3|memory. Backend-specific
	// settings are read by the blob factory itself.
	BlobDriver string

	// WorkflowBaseURL is the external workflow/approval collaborator.
	// Empty disables workflow dispatch.
	WorkflowBaseURL string

	// AuditBaseURL is the external audit collaborator. Empty journals all
	// audit entries to the blob store.
	AuditBaseURL string

	// CollaboratorTimeout bounds each HTTP call to a collaborator.
	CollaboratorTimeout time.Duration

	// RedisAddr points at the identity collaborator's role cache. Empty
	// falls back to the static role directory seeded from
	// BATCHCORE_STATIC_ROLES.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// Load reads the configuration from the environment.
func Load() Config {
	return Config{
		ListenAddr:          getenv("BATCHCORE_LISTEN_ADDR", ":9180"),
		LogLevel:            getenv("BATCHCORE_LOG_LEVEL", "info"),
		StorageDriver:       getenv("BATCHCORE_STORAGE_DRIVER", "sqlite"),
		BlobDriver:          getenv("BATCHCORE_BLOB_DRIVER", "fs"),
		WorkflowBaseURL:     os.Getenv("BATCHCORE_WORKFLOW_URL"),
		AuditBaseURL:        os.Getenv("BATCHCORE_AUDIT_URL"),
		CollaboratorTimeout: getduration("BATCHCORE_COLLABORATOR_TIMEOUT", 10*time.Second),
		RedisAddr:           os.Getenv("BATCHCORE_REDIS_ADDR"),
		RedisPassword:       os.Getenv("BATCHCORE_REDIS_PASSWORD"),
		RedisDB:             getint("BATCHCORE_REDIS_DB", 0),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getduration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

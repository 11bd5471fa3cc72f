package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"BATCHCORE_LISTEN_ADDR", "BATCHCORE_LOG_LEVEL", "BATCHCORE_STORAGE_DRIVER",
		"BATCHCORE_BLOB_DRIVER", "BATCHCORE_WORKFLOW_URL", "BATCHCORE_AUDIT_URL",
		"BATCHCORE_COLLABORATOR_TIMEOUT", "BATCHCORE_REDIS_ADDR", "BATCHCORE_REDIS_DB",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.ListenAddr != ":9180" {
		t.Errorf("unexpected listen addr %s", cfg.ListenAddr)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("unexpected log level %s", cfg.LogLevel)
	}
	if cfg.StorageDriver != "sqlite" {
		t.Errorf("unexpected storage driver %s", cfg.StorageDriver)
	}
	if cfg.BlobDriver != "fs" {
		t.Errorf("unexpected blob driver %s", cfg.BlobDriver)
	}
	if cfg.CollaboratorTimeout != 10*time.Second {
		t.Errorf("unexpected timeout %s", cfg.CollaboratorTimeout)
	}
	if cfg.WorkflowBaseURL != "" || cfg.AuditBaseURL != "" || cfg.RedisAddr != "" {
		t.Error("collaborators should be disabled by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("BATCHCORE_LISTEN_ADDR", ":8080")
	t.Setenv("BATCHCORE_STORAGE_DRIVER", "postgres")
	t.Setenv("BATCHCORE_COLLABORATOR_TIMEOUT", "3s")
	t.Setenv("BATCHCORE_REDIS_DB", "4")

	cfg := Load()
	if cfg.ListenAddr != ":8080" {
		t.Errorf("override lost: %s", cfg.ListenAddr)
	}
	if cfg.StorageDriver != "postgres" {
		t.Errorf("override lost: %s", cfg.StorageDriver)
	}
	if cfg.CollaboratorTimeout != 3*time.Second {
		t.Errorf("override lost: %s", cfg.CollaboratorTimeout)
	}
	if cfg.RedisDB != 4 {
		t.Errorf("override lost: %d", cfg.RedisDB)
	}
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("BATCHCORE_COLLABORATOR_TIMEOUT", "soon")
	t.Setenv("BATCHCORE_REDIS_DB", "several")

	cfg := Load()
	if cfg.CollaboratorTimeout != 10*time.Second {
		t.Errorf("malformed duration should fall back: %s", cfg.CollaboratorTimeout)
	}
	if cfg.RedisDB != 0 {
		t.Errorf("malformed int should fall back: %d", cfg.RedisDB)
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fount.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaultsToPartialFile(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
store:
  address: db.internal:28015
project: chat
auto_create: true
stale_after: 2s
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Address != "db.internal:28015" || cfg.Project != "chat" {
		t.Fatalf("explicit fields lost: %+v", cfg)
	}
	if !cfg.AutoCreate {
		t.Fatal("auto_create not parsed")
	}
	if cfg.StaleAfter != 2*time.Second {
		t.Fatalf("stale_after = %v", cfg.StaleAfter)
	}
	if cfg.RetryDelay != DefaultRetryDelay || cfg.WriteTimeout != DefaultWriteTimeout {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Default()
	if *cfg != *want {
		t.Fatalf("cfg = %+v, want defaults %+v", cfg, want)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "store: [not\n  a mapping")
	if _, err := Load(path); err == nil {
		t.Fatal("malformed file accepted")
	}
}

func TestLoadRejectsProjectCollidingWithLegacyDB(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
project: app
legacy_db: app
`)
	if _, err := Load(path); err == nil {
		t.Fatal("colliding project/legacy_db accepted")
	}
}

func TestLoadRejectsUnknownLogLevel(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "log_level: verbose\n")
	if _, err := Load(path); err == nil {
		t.Fatal("unknown log_level accepted")
	}
}

func TestDefaultIsFullyPopulated(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if cfg.Store.Address != DefaultAddress || cfg.Project != DefaultProject {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.StaleAfter != DefaultStaleAfter || cfg.ReadyTimeout != DefaultReadyTimeout {
		t.Fatalf("cfg = %+v", cfg)
	}
}

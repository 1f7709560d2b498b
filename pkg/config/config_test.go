package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigFromEnvPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	content := `{
  "server": {"host": "127.0.0.1", "port": 9180},
  "storage": {"tenant_db": "tenants.db", "memory_db": "memory.db"},
  "logging": {"format": "json", "level": "debug"}
}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("OPSDESK_CONFIG", path)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != 9180 {
		t.Fatalf("server port = %d, want 9180", cfg.Server.Port)
	}
	if cfg.Storage.TenantDB != "tenants.db" {
		t.Fatalf("tenant db = %q", cfg.Storage.TenantDB)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Fatalf("retry defaults not applied, max attempts = %d", cfg.Retry.MaxAttempts)
	}
	if cfg.ERP.SessionTTLMinutes != 60 {
		t.Fatalf("erp session ttl default = %d, want 60", cfg.ERP.SessionTTLMinutes)
	}
}

func TestLoadConfigListenAddrOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(`{"server": {"host": "0.0.0.0", "port": 80}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("OPSDESK_CONFIG", path)
	t.Setenv("OPSDESK_LISTEN_ADDR", "10.1.2.3:9999")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Host != "10.1.2.3" || cfg.Server.Port != 9999 {
		t.Fatalf("listen addr override not applied: %s:%d", cfg.Server.Host, cfg.Server.Port)
	}
}

func TestLoadConfigEnvPathMissing(t *testing.T) {
	t.Setenv("OPSDESK_CONFIG", filepath.Join(t.TempDir(), "nope.json"))

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error for missing config path")
	}
}

func TestSplitHostPort(t *testing.T) {
	t.Parallel()

	if _, _, ok := splitHostPort("nocolon"); ok {
		t.Fatal("expected failure without port")
	}
	if _, _, ok := splitHostPort("host:"); ok {
		t.Fatal("expected failure with empty port")
	}
	host, port, ok := splitHostPort("localhost:8080")
	if !ok || host != "localhost" || port != 8080 {
		t.Fatalf("splitHostPort = %q %d %v", host, port, ok)
	}
}

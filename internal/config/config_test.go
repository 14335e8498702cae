package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stackpilot/stackpilot/internal/preflight"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
stack:
  network: prod_net
  mysql_container: db1
backup:
  retention_days: 14
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Stack.Network != "prod_net" {
		t.Errorf("network not overridden: %q", cfg.Stack.Network)
	}
	if cfg.Stack.MySQLContainer != "db1" {
		t.Errorf("mysql container not overridden: %q", cfg.Stack.MySQLContainer)
	}
	if cfg.Backup.RetentionDays != 14 {
		t.Errorf("retention not overridden: %d", cfg.Backup.RetentionDays)
	}
	// Untouched fields keep their defaults.
	if cfg.Stack.ApacheContainer != "apache2_server" {
		t.Errorf("apache container default lost: %q", cfg.Stack.ApacheContainer)
	}
}

func TestLoadRejectsBadDestination(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
backup:
  destinations:
    - type: ftp
      path: /backups
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for unsupported destination type")
	}
}

func TestRequireStackCredentials(t *testing.T) {
	cfg := Default()
	err := cfg.RequireStackCredentials()
	if !errors.Is(err, preflight.ErrPrerequisite) {
		t.Fatalf("empty root password must be a fatal prerequisite, got %v", err)
	}

	cfg.Stack.MySQLRootPassword = "rootpw"
	if err := cfg.RequireStackCredentials(); !errors.Is(err, preflight.ErrPrerequisite) {
		t.Fatalf("empty user password must be a fatal prerequisite, got %v", err)
	}

	cfg.Stack.MySQLPassword = "userpw"
	if err := cfg.RequireStackCredentials(); err != nil {
		t.Fatalf("populated credentials rejected: %v", err)
	}
}

func TestEnvOverridesPassword(t *testing.T) {
	t.Setenv("STACKPILOT_MYSQL_ROOT_PASSWORD", "sekrit")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Stack.MySQLRootPassword != "sekrit" {
		t.Errorf("env override not applied")
	}
}

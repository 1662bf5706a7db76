package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deckd.yaml")
	content := `
server:
  addr: ":9999"
sessions:
  max: 3
  idle_timeout: 5m
permissions:
  timeout: 90s
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":9999" {
		t.Errorf("addr = %q, want :9999", cfg.Server.Addr)
	}
	if cfg.Sessions.Max != 3 {
		t.Errorf("sessions.max = %d, want 3", cfg.Sessions.Max)
	}
	if cfg.Sessions.IdleTimeout.Std() != 5*time.Minute {
		t.Errorf("idle_timeout = %s, want 5m", cfg.Sessions.IdleTimeout.Std())
	}
	if cfg.Permissions.Timeout.Std() != 90*time.Second {
		t.Errorf("permissions.timeout = %s, want 90s", cfg.Permissions.Timeout.Std())
	}
	// Untouched keys keep defaults.
	if cfg.Agent.Command != "claude" {
		t.Errorf("agent.command = %q, want claude", cfg.Agent.Command)
	}
}

func TestLoadBadDuration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deckd.yaml")
	if err := os.WriteFile(path, []byte("sessions:\n  idle_timeout: nonsense\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for bad duration")
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("DECK_ADDR", ":7777")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":7777" {
		t.Errorf("addr = %q, want :7777", cfg.Server.Addr)
	}
}

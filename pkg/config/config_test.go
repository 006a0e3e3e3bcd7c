package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoadEffectiveFromFile(t *testing.T) {
	p := writeConfig(t, `
server:
  address: 127.0.0.1
  port: 9090
  db_path: /tmp/parley-test
logging:
  level: debug
sync:
  reconcile_window: 5s
  max_attachment_size: 2MB
`)
	flags := Flags{Config: p, DB: "./fallback", Set: map[string]bool{"config": true}}
	eff, err := LoadEffective(flags)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if eff.Source != "config" {
		t.Fatalf("expected config source, got %s", eff.Source)
	}
	if eff.Addr != "127.0.0.1:9090" {
		t.Fatalf("unexpected addr %s", eff.Addr)
	}
	if eff.DBPath != "/tmp/parley-test" {
		t.Fatalf("unexpected db path %s", eff.DBPath)
	}
	if got := eff.Config.ReconcileWindow(); got != 5*time.Second {
		t.Fatalf("reconcile window %v", got)
	}
	if got := eff.Config.MaxAttachmentBytes(); got != 2_000_000 {
		t.Fatalf("attachment cap %d", got)
	}
}

func TestLoadEffectiveMissingFileUsesFlags(t *testing.T) {
	flags := Flags{
		Addr:   ":7070",
		DB:     "./db-from-flag",
		Config: filepath.Join(t.TempDir(), "absent.yaml"),
		Set:    map[string]bool{"addr": true, "config": true},
	}
	eff, err := LoadEffective(flags)
	if err != nil {
		t.Fatalf("missing config file must not fail: %v", err)
	}
	if eff.Source != "flags" {
		t.Fatalf("expected flags source, got %s", eff.Source)
	}
	if eff.Addr != ":7070" || eff.DBPath != "./db-from-flag" {
		t.Fatalf("flag values not applied: %s %s", eff.Addr, eff.DBPath)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	p := writeConfig(t, `
server:
  db_path: /from/file
sync:
  reconcile_window: 5s
`)
	t.Setenv("PARLEY_DB_PATH", "/from/env")
	t.Setenv("PARLEY_RECONCILE_WINDOW", "30s")
	t.Setenv("PARLEY_SIGNING_KEYS", "k1, k2,")

	flags := Flags{Config: p, Set: map[string]bool{"config": true}}
	eff, err := LoadEffective(flags)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if eff.DBPath != "/from/env" {
		t.Fatalf("env override lost: %s", eff.DBPath)
	}
	if got := eff.Config.ReconcileWindow(); got != 30*time.Second {
		t.Fatalf("reconcile window %v", got)
	}
	keys := eff.Config.Security.SigningKeys
	if len(keys) != 2 || keys[0] != "k1" || keys[1] != "k2" {
		t.Fatalf("signing keys %v", keys)
	}
}

func TestDefaults(t *testing.T) {
	var cfg Config
	if got := cfg.Addr(); got != ":8080" {
		t.Fatalf("default addr %s", got)
	}
	if got := cfg.ReconcileWindow(); got != 10*time.Second {
		t.Fatalf("default reconcile window %v", got)
	}
	if got := cfg.RetentionPeriod(); got != 30*24*time.Hour {
		t.Fatalf("default retention period %v", got)
	}
	if got := cfg.MaxAttachmentBytes(); got != 1<<20 {
		t.Fatalf("default attachment cap %d", got)
	}

	cfg.Sync.ReconcileWindow = "not a duration"
	if got := cfg.ReconcileWindow(); got != 10*time.Second {
		t.Fatalf("garbage duration must fall back, got %v", got)
	}
	cfg.Sync.MaxAttachmentSize = "garbage"
	if got := cfg.MaxAttachmentBytes(); got != 1<<20 {
		t.Fatalf("garbage size must fall back, got %d", got)
	}
}

func TestResolveConfigPath(t *testing.T) {
	t.Setenv("PARLEY_CONFIG", "/env/config.yaml")
	if got := ResolveConfigPath("/flag/config.yaml", true); got != "/flag/config.yaml" {
		t.Fatalf("explicit flag must win, got %s", got)
	}
	if got := ResolveConfigPath("./config.yaml", false); got != "/env/config.yaml" {
		t.Fatalf("env must beat default, got %s", got)
	}
}

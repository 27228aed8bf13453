package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSettings(t *testing.T, root, space, content string) {
	t.Helper()
	dir := filepath.Join(root, space)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, SettingsFile), []byte(content), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}
}

func TestLoadSettingsMissing(t *testing.T) {
	s, err := LoadSettings(t.TempDir(), "default")
	if err != nil {
		t.Fatalf("Expected nil error for missing settings, got %v", err)
	}
	if s != nil {
		t.Errorf("Expected nil settings for missing file, got %+v", s)
	}
}

func TestLoadSettingsInvalid(t *testing.T) {
	root := t.TempDir()
	writeSettings(t, root, "default", "identity: [not a map")
	if _, err := LoadSettings(root, "default"); err == nil {
		t.Error("Expected error for invalid YAML")
	}
}

func TestLoadSettings(t *testing.T) {
	root := t.TempDir()
	writeSettings(t, root, "default", `
identity:
  name: alice
messaging:
  default_space: team
  relay:
    url: ws://ws.example/ws
    secret: s3cret
  claude_whitelist:
    - bob
    - carol
unknown_key: ignored
`)

	s, err := LoadSettings(root, "default")
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if s == nil {
		t.Fatal("Expected settings, got nil")
	}
	if s.Identity.Name != "alice" {
		t.Errorf("Expected identity alice, got %s", s.Identity.Name)
	}
	if s.Messaging.DefaultSpace != "team" {
		t.Errorf("Expected default space team, got %s", s.Messaging.DefaultSpace)
	}
	if s.Messaging.Relay.URL != "ws://ws.example/ws" {
		t.Errorf("Expected relay url, got %s", s.Messaging.Relay.URL)
	}
	if len(s.Messaging.ClaudeWhitelist) != 2 {
		t.Errorf("Expected 2 whitelist entries, got %v", s.Messaging.ClaudeWhitelist)
	}
}

func TestApplySettingsPrecedence(t *testing.T) {
	clearEnv(t)

	cfg := Default()
	cfg.User = "from-toml"
	cfg.Relay.Secret = "toml-secret"

	var s Settings
	s.Identity.Name = "from-settings"
	s.Messaging.Relay.Secret = "settings-secret"
	s.Messaging.DefaultSpace = "team"
	s.Messaging.ClaudeWhitelist = []string{"bob"}

	cfg.ApplySettings(&s)

	if cfg.User != "from-settings" {
		t.Errorf("Workspace settings should override TOML user, got %s", cfg.User)
	}
	if cfg.Relay.Secret != "settings-secret" {
		t.Errorf("Workspace settings should override TOML secret, got %s", cfg.Relay.Secret)
	}
	if cfg.Inbox.Space != "team" {
		t.Errorf("Expected space team, got %s", cfg.Inbox.Space)
	}
	if len(cfg.Relay.ClaudeWhitelist) != 1 || cfg.Relay.ClaudeWhitelist[0] != "bob" {
		t.Errorf("Expected whitelist [bob], got %v", cfg.Relay.ClaudeWhitelist)
	}
}

func TestApplySettingsEnvWins(t *testing.T) {
	clearEnv(t)
	t.Setenv("DCMSG_USER", "from-env")
	t.Setenv("DCMSG_RELAY_SECRET", "env-secret")

	cfg := Default()
	var s Settings
	s.Identity.Name = "from-settings"
	s.Messaging.Relay.Secret = "settings-secret"

	cfg.ApplySettings(&s)

	if cfg.User != "from-env" {
		t.Errorf("Environment should override workspace settings, got %s", cfg.User)
	}
	if cfg.Relay.Secret != "env-secret" {
		t.Errorf("Environment should override workspace secret, got %s", cfg.Relay.Secret)
	}
}

func TestApplySettingsNil(t *testing.T) {
	clearEnv(t)
	cfg := Default()
	cfg.User = "alice"
	cfg.ApplySettings(nil)
	if cfg.User != "alice" {
		t.Errorf("Nil settings should not change config, got user %s", cfg.User)
	}
}

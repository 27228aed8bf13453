package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SettingsFile is the per-workspace settings file name, looked up under
// <root>/<space>/.
const SettingsFile = "settings.local.yaml"

// Settings are per-deployment overrides. They carry the identity and
// relay coordinates for one workspace so the same global config can
// serve several checkouts. Unknown keys are ignored.
type Settings struct {
	Identity struct {
		Name string `yaml:"name"`
	} `yaml:"identity"`
	Messaging struct {
		DefaultSpace string `yaml:"default_space"`
		Relay        struct {
			URL    string `yaml:"url"`
			Secret string `yaml:"secret"`
		} `yaml:"relay"`
		ClaudeWhitelist []string `yaml:"claude_whitelist"`
	} `yaml:"messaging"`
}

// LoadSettings reads settings.local.yaml from the workspace directory.
// A missing file returns (nil, nil); callers treat that as "no workspace
// overrides".
func LoadSettings(root, space string) (*Settings, error) {
	path := filepath.Join(root, space, SettingsFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var s Settings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &s, nil
}

// ApplySettings merges workspace settings into the config, then re-runs
// the environment overrides so precedence stays Env > workspace > TOML.
func (c *Config) ApplySettings(s *Settings) {
	if s == nil {
		return
	}
	if s.Identity.Name != "" {
		c.User = s.Identity.Name
	}
	if s.Messaging.DefaultSpace != "" {
		c.Inbox.Space = s.Messaging.DefaultSpace
	}
	if s.Messaging.Relay.URL != "" {
		c.Relay.URL = s.Messaging.Relay.URL
	}
	if s.Messaging.Relay.Secret != "" {
		c.Relay.Secret = s.Messaging.Relay.Secret
	}
	if len(s.Messaging.ClaudeWhitelist) > 0 {
		c.Relay.ClaudeWhitelist = append([]string(nil), s.Messaging.ClaudeWhitelist...)
	}
	applyEnvOverrides(c)
}

// Package config loads the dcmsg configuration. Two layers feed it: a
// global TOML file under the user's config directory and an optional
// per-workspace settings.local.yaml (see settings.go). Environment
// variables override both.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/Dicklesworthstone/dcmsg/internal/util"
)

// Config represents the main configuration
type Config struct {
	User        string            `toml:"user"` // stable handle; DCMSG_USER overrides
	Relay       RelayConfig       `toml:"relay"`
	Inbox       InboxConfig       `toml:"inbox"`
	Queue       QueueConfig       `toml:"queue"`
	SideChannel SideChannelConfig `toml:"sidechannel"`
	UI          UIConfig          `toml:"ui"`
}

// RelayConfig covers both sides of the wire: the URL a client dials and
// the address an embedded relay binds.
type RelayConfig struct {
	URL              string   `toml:"url"`
	Secret           string   `toml:"secret"`
	Listen           string   `toml:"listen"`
	HeartbeatSeconds int      `toml:"heartbeat_seconds"`
	ClaudeWhitelist  []string `toml:"claude_whitelist"` // peers allowed to reach this user's agent
}

// InboxConfig locates the on-disk inboxes and tunes the poll loop.
type InboxConfig struct {
	Root                string `toml:"root"` // data root; DCMSG_ROOT overrides
	Space               string `toml:"space"`
	PollIntervalSeconds int    `toml:"poll_interval_seconds"`
}

type QueueConfig struct {
	PendingLimit int `toml:"pending_limit"` // pending tasks shown in a status report
}

type SideChannelConfig struct {
	IssueCommand string `toml:"issue_command"` // e.g. "gh issue comment {number} --body-file -"
}

type UIConfig struct {
	Bell bool `toml:"bell"` // terminal bell on high-priority messages
}

// DefaultRelayListen is the address an embedded relay binds when the
// config does not name one.
const DefaultRelayListen = "127.0.0.1:8765"

// DefaultPath returns the default config file path
func DefaultPath() string {
	if env := os.Getenv("DCMSG_CONFIG"); env != "" {
		return ExpandHome(env)
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "dcmsg", "config.toml")
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		// Fallback to /tmp when home directory is unavailable (e.g., containers)
		home = os.TempDir()
	}
	return filepath.Join(home, ".config", "dcmsg", "config.toml")
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Relay: RelayConfig{
			URL:              "ws://" + DefaultRelayListen + "/ws",
			Listen:           DefaultRelayListen,
			HeartbeatSeconds: 30,
		},
		Inbox: InboxConfig{
			Space:               "default",
			PollIntervalSeconds: 2,
		},
		Queue: QueueConfig{
			PendingLimit: 5,
		},
		UI: UIConfig{
			Bell: true,
		},
	}
}

// Load reads the config file at path (DefaultPath when empty), layers it
// over the defaults, and applies environment overrides. A missing file
// is not an error; the defaults stand.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	// 1. Initialize with defaults
	cfg := Default()

	// 2. Read and unmarshal TOML over defaults
	if data, err := os.ReadFile(path); err == nil {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	// 3. Apply environment variable overrides (Env > TOML > Default)
	applyEnvOverrides(cfg)

	return cfg, nil
}

// applyEnvOverrides is called again after workspace settings merge so the
// precedence stays Env > workspace > TOML > Default.
func applyEnvOverrides(cfg *Config) {
	if root := os.Getenv("DCMSG_ROOT"); root != "" {
		cfg.Inbox.Root = ExpandHome(root)
	}
	if user := os.Getenv("DCMSG_USER"); user != "" {
		cfg.User = user
	}
	if url := os.Getenv("DCMSG_RELAY_URL"); url != "" {
		cfg.Relay.URL = url
	}
	if secret := os.Getenv("DCMSG_RELAY_SECRET"); secret != "" {
		cfg.Relay.Secret = secret
	}
	if space := os.Getenv("DCMSG_SPACE"); space != "" {
		cfg.Inbox.Space = space
	}
	if poll := os.Getenv("DCMSG_POLL_SECONDS"); poll != "" {
		if n, err := strconv.Atoi(poll); err == nil && n > 0 {
			cfg.Inbox.PollIntervalSeconds = n
		}
	}
}

// Validate checks ranges and handle syntax. It does not require a user
// or a root; commands that need those check at their own entry points
// so that read-only commands keep working on a bare machine.
func (c *Config) Validate() error {
	if c.User != "" && !util.ValidHandle(c.User) {
		return fmt.Errorf("invalid user handle %q", c.User)
	}
	if c.Inbox.Space != "" && !util.ValidHandle(c.Inbox.Space) {
		return fmt.Errorf("invalid space name %q", c.Inbox.Space)
	}
	if c.Relay.HeartbeatSeconds < 1 {
		return fmt.Errorf("relay heartbeat must be at least 1 second, got %d", c.Relay.HeartbeatSeconds)
	}
	if c.Inbox.PollIntervalSeconds < 1 {
		return fmt.Errorf("inbox poll interval must be at least 1 second, got %d", c.Inbox.PollIntervalSeconds)
	}
	if c.Queue.PendingLimit < 1 {
		return fmt.Errorf("queue pending limit must be at least 1, got %d", c.Queue.PendingLimit)
	}
	return nil
}

// Heartbeat returns the relay ping period.
func (c *RelayConfig) Heartbeat() time.Duration {
	return time.Duration(c.HeartbeatSeconds) * time.Second
}

// PollInterval returns the inbox poll period.
func (c *InboxConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// ExpandHome expands the tilde (~) in a path to the user's home directory.
// Supports "~" and "~/path" formats.
func ExpandHome(path string) string {
	if path == "~" {
		home, err := os.UserHomeDir()
		if err == nil {
			return home
		}
		return path
	}

	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}

	return path
}

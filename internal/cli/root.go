// Package cli implements the dcmsg command surface.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/dcmsg/internal/config"
	"github.com/Dicklesworthstone/dcmsg/internal/inbox"
)

var (
	cfgFile string

	// Global JSON output flag - inherited by all subcommands
	jsonOutput bool

	// Build information - set via ldflags
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "dcmsg",
	Short: "Team messaging with per-user AI agent inboxes",
	Long: `dcmsg is a direct-messaging client and relay with durable on-disk
inboxes and a single-task-at-a-time queue for AI agents.

Quick Start:
  dcmsg relay --secret S                # Run a standalone relay
  dcmsg client                          # Connect the message window
  dcmsg client --host                   # Host an embedded relay too
  dcmsg send bob "lunch?"               # One-shot send
  dcmsg tasks next --json               # Agent: pull the next task`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.config/dcmsg/config.toml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "emit machine-readable JSON output")
	rootCmd.Version = fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, Date)

	rootCmd.AddCommand(
		newClientCmd(),
		newRelayCmd(),
		newSendCmd(),
		newInboxCmd(),
		newMarkCmd(),
		newTasksCmd(),
		newReplyCmd(),
		newStatusCmd(),
	)
}

// IsJSONOutput reports whether --json was requested.
func IsJSONOutput() bool { return jsonOutput }

// loadConfig layers the global TOML config, the workspace settings, and
// the environment.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if cfg.Inbox.Root != "" {
		settings, err := config.LoadSettings(cfg.Inbox.Root, cfg.Inbox.Space)
		if err != nil {
			return nil, fmt.Errorf("workspace settings: %w", err)
		}
		cfg.ApplySettings(settings)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// requireRoot enforces the client-side fatal: the data root must be
// configured and exist.
func requireRoot(cfg *config.Config) error {
	if cfg.Inbox.Root == "" {
		return fmt.Errorf("no data root configured (set DCMSG_ROOT or inbox.root in config)")
	}
	if info, err := os.Stat(cfg.Inbox.Root); err != nil || !info.IsDir() {
		return fmt.Errorf("data root %s does not exist", cfg.Inbox.Root)
	}
	return nil
}

// requireUser enforces that a handle is configured for commands that
// author messages.
func requireUser(cfg *config.Config) error {
	if cfg.User == "" {
		return fmt.Errorf("no user handle configured (set DCMSG_USER or identity.name in workspace settings)")
	}
	return nil
}

func newStore(cfg *config.Config) *inbox.Store {
	return inbox.NewStore(cfg.Inbox.Root, cfg.Inbox.Space)
}

// agentHandle is the configured user's agent inbox handle.
func agentHandle(cfg *config.Config) string {
	return cfg.User + "-claude"
}

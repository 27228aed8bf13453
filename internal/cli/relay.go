package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/dcmsg/internal/config"
	"github.com/Dicklesworthstone/dcmsg/internal/relay"
)

func newRelayCmd() *cobra.Command {
	var (
		addr   string
		secret string
	)

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run the standalone message relay",
		Long: `Run the relay server: WebSocket fan-out on /ws plus a JSON health
view on /status. The relay keeps no persistent state; stopping it only
interrupts live delivery, never durability.

Examples:
  dcmsg relay --secret S
  dcmsg relay --addr 0.0.0.0:8765 --secret S`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRelay(addr, secret)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, "+config.DefaultRelayListen+")")
	cmd.Flags().StringVar(&secret, "secret", "", "shared secret (default from config)")
	return cmd
}

func runRelay(addr, secret string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if addr == "" {
		addr = cfg.Relay.Listen
	}
	if secret == "" {
		secret = cfg.Relay.Secret
	}
	if secret == "" {
		return fmt.Errorf("relay needs a shared secret (--secret or relay.secret in config)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := relay.NewServer(relay.Config{
		Addr:      addr,
		Secret:    secret,
		Heartbeat: cfg.Relay.Heartbeat(),
	})
	return server.Run(ctx)
}

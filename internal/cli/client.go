package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Dicklesworthstone/dcmsg/internal/config"
	"github.com/Dicklesworthstone/dcmsg/internal/events"
	"github.com/Dicklesworthstone/dcmsg/internal/inbox"
	"github.com/Dicklesworthstone/dcmsg/internal/relay"
	"github.com/Dicklesworthstone/dcmsg/internal/robot"
	"github.com/Dicklesworthstone/dcmsg/internal/tui"
	"github.com/Dicklesworthstone/dcmsg/internal/watch"
)

func newClientCmd() *cobra.Command {
	var (
		host     bool
		relayURL string
		plain    bool
		user     string
		space    string
	)

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Connect the interactive message window",
		Long: `Connect to the relay and open the message window. On a terminal this
is a full-screen UI; on a pipe it degrades to one event per line.
--host starts an embedded relay first, for the teammate who runs the
hub on their own machine.

Examples:
  dcmsg client
  dcmsg client --host
  dcmsg client --relay ws://hub.example.com:8765/ws`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(host, relayURL, plain, user, space)
		},
	}

	cmd.Flags().BoolVar(&host, "host", false, "also run an embedded relay on relay.listen")
	cmd.Flags().StringVar(&relayURL, "relay", "", "relay URL (default from config)")
	cmd.Flags().BoolVar(&plain, "plain", false, "line-oriented output even on a terminal")
	cmd.Flags().StringVar(&user, "user", "", "handle to connect as (default from config)")
	cmd.Flags().StringVar(&space, "space", "", "workspace space (default from config)")
	return cmd
}

func runClient(host bool, relayURL string, plain bool, user, space string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if user != "" {
		cfg.User = user
	}
	if space != "" {
		cfg.Inbox.Space = space
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := requireRoot(cfg); err != nil {
		return err
	}
	if err := requireUser(cfg); err != nil {
		return err
	}
	// No secret disables the relay path; the inbox side still works.
	// Hosting is the one mode that cannot run without it.
	relayOn := cfg.Relay.Secret != ""
	if host && !relayOn {
		return fmt.Errorf("--host requires a relay secret (set DCMSG_RELAY_SECRET or relay.secret in config)")
	}
	if relayURL == "" {
		relayURL = cfg.Relay.URL
	}
	if host {
		relayURL = "ws://" + cfg.Relay.Listen + "/ws"
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	if host {
		server := relay.NewServer(relay.Config{
			Addr:      cfg.Relay.Listen,
			Secret:    cfg.Relay.Secret,
			Heartbeat: cfg.Relay.Heartbeat(),
		})
		g.Go(func() error { return server.Run(ctx) })
	}

	store := newStore(cfg)
	bus := events.NewBus()
	watcher := watch.New(store, cfg.User, cfg.Inbox.PollInterval(), watch.NopNotifier{})
	g.Go(func() error {
		watcher.Run(ctx)
		return nil
	})

	var client *relay.Client
	if relayOn {
		client = relay.NewClient(relay.ClientConfig{
			URL:             relayURL,
			Secret:          cfg.Relay.Secret,
			Username:        cfg.User,
			ClaudeWhitelist: cfg.Relay.ClaudeWhitelist,
			Heartbeat:       cfg.Relay.Heartbeat(),
		})
		g.Go(func() error {
			client.Run(ctx)
			return nil
		})
		g.Go(func() error {
			events.Pump(ctx, client.Frames(), bus)
			return nil
		})

		// Persist relay deliveries before anything renders them; the
		// inbox file is the durability boundary, the socket is not.
		g.Go(func() error {
			persistDeliveries(ctx, cfg, store, bus, watcher)
			return nil
		})
	}

	sender := func(to, text, priority string) (robot.SendOutput, error) {
		return clientSend(cfg, store, client, watcher, to, text, priority)
	}

	if plain || !isTTY() {
		g.Go(func() error {
			defer stop()
			return runLineMode(ctx, cfg, bus, watcher, relayOn)
		})
	} else {
		g.Go(func() error {
			defer stop()
			return tui.Run(ctx, tui.Options{
				Username: cfg.User,
				Agent:    agentHandle(cfg),
				Store:    store,
				Bus:      bus,
				Local:    watcher.Records(),
				Send:     sender,
				SetStatus: func(status string) error {
					if client == nil {
						return fmt.Errorf("relay disabled: no secret configured")
					}
					return client.SetStatus(status)
				},
				RelayDisabled: !relayOn,
				Bell:          cfg.UI.Bell,
			})
		})
	}

	return g.Wait()
}

// persistDeliveries appends every relay-delivered message to the local
// inbox, keyed by the sender's msg_id so redelivery is idempotent.
func persistDeliveries(ctx context.Context, cfg *config.Config, store *inbox.Store, bus *events.Bus, watcher *watch.Watcher) {
	evs, cancel := bus.Subscribe(64)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-evs:
			if !ok {
				return
			}
			msg, ok := ev.(events.MessageReceived)
			if !ok {
				continue
			}
			rec := recordFromFrame(cfg.User, &msg.Frame)
			if rec.ID != "" {
				if dup, err := store.HasID(cfg.User, rec.ID); err == nil && dup {
					continue
				}
			}
			id, err := store.Append(rec)
			if err != nil {
				fmt.Printf("! failed to persist message from @%s: %v\n", rec.From, err)
				continue
			}
			// The bus already surfaced it; keep the poll loop quiet.
			watcher.MarkSeen(id)
		}
	}
}

// recordFromFrame converts a relay delivery into an inbox record.
func recordFromFrame(to string, frame *relay.ServerFrame) *inbox.Record {
	rec := &inbox.Record{
		ID:       frame.MsgID,
		From:     frame.From,
		To:       to,
		Text:     frame.Text,
		Priority: inbox.Priority(frame.Priority),
		Thread:   frame.Thread,
		ReplyTo:  frame.ReplyTo,
		Source:   "relay",
	}
	if t, err := time.Parse("2006-01-02 15:04", frame.Timestamp); err == nil {
		rec.Time = t
	}
	return rec
}

// clientSend is the live-session send path: local append, then the
// already-open relay connection instead of a one-shot dial. A nil
// client is inbox-only mode; the append still happens and the message
// waits in the recipient's file.
func clientSend(cfg *config.Config, store *inbox.Store, client *relay.Client, watcher *watch.Watcher, to, text, priority string) (robot.SendOutput, error) {
	rec := &inbox.Record{
		From:     cfg.User,
		To:       to,
		Text:     text,
		Priority: inbox.Priority(priority),
	}
	if rec.To == "claude" {
		rec.To = cfg.User + relay.AgentSuffix
	}
	id, err := store.Append(rec)
	if err != nil {
		return robot.SendOutput{Response: robot.ErrorResponse(err)}, err
	}
	watcher.MarkSeen(id)

	out := robot.SendOutput{
		Response: robot.NewResponse(true),
		To:       rec.To,
		MsgID:    id,
	}
	if client == nil {
		out.Queued = true
		return out, nil
	}
	err = client.SendMessage(&relay.SendFrame{
		To:       rec.To,
		Text:     text,
		Priority: string(rec.Priority),
		MsgID:    id,
	})
	if err != nil {
		out.Queued = true
	}
	return out, nil
}

// runLineMode prints one line per event until the context ends. Used on
// pipes and with --plain; sends still go through the send command.
func runLineMode(ctx context.Context, cfg *config.Config, bus *events.Bus, watcher *watch.Watcher, relayOn bool) error {
	evs, cancel := bus.Subscribe(64)
	defer cancel()

	if relayOn {
		fmt.Printf("connected as @%s (line mode)\n", cfg.User)
	} else {
		fmt.Printf("@%s (line mode, relay disabled: no secret)\n", cfg.User)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case rec, ok := <-watcher.Records():
			if !ok {
				return nil
			}
			fmt.Printf("[inbox] %s @%s: %s\n", rec.ID, rec.From, rec.Text)
		case ev, ok := <-evs:
			if !ok {
				return nil
			}
			switch e := ev.(type) {
			case events.MessageReceived:
				mark := ""
				if e.Frame.Priority == "high" {
					mark = "! "
				}
				fmt.Printf("[%s] %s@%s: %s\n", e.Frame.Timestamp, mark, e.Frame.From, e.Frame.Text)
			case events.PresenceChanged:
				if e.Frame.User != "" {
					fmt.Printf("[presence] @%s is %s\n", e.Frame.User, e.Frame.Status)
				}
			case events.ConnectionChanged:
				if e.Connected {
					fmt.Printf("[relay] connected, online: %v\n", e.Online)
				} else {
					fmt.Println("[relay] disconnected")
				}
			case events.RelayError:
				fmt.Printf("[relay] error: %s\n", e.Message)
			}
		}
	}
}

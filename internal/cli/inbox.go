package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/dcmsg/internal/inbox"
	"github.com/Dicklesworthstone/dcmsg/internal/robot"
)

func newInboxCmd() *cobra.Command {
	var (
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "inbox [handle]",
		Short: "List an inbox",
		Long: `Scan an inbox and render its records, newest last. Defaults to your
own inbox; pass a handle to read another (e.g. your agent's).

Examples:
  dcmsg inbox
  dcmsg inbox --status unread
  dcmsg inbox alice-claude --limit 10 --json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			handle := ""
			if len(args) == 1 {
				handle = args[0]
			}
			return runInbox(handle, status, limit)
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status: unread|todo|done|read")
	cmd.Flags().IntVar(&limit, "limit", 0, "show at most N messages (0 = all)")
	return cmd
}

func runInbox(handle, status string, limit int) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := requireRoot(cfg); err != nil {
		return err
	}
	if handle == "" {
		if err := requireUser(cfg); err != nil {
			return err
		}
		handle = cfg.User
	}

	filter := inbox.Filter{}
	if status != "" {
		st, ok := inbox.ParseStatus(status)
		if !ok {
			return fmt.Errorf("invalid status %q (want unread, todo, done or read)", status)
		}
		filter.Status = st
	}

	recs, err := newStore(cfg).Scan(handle, filter)
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(robot.BuildInbox(handle, recs, limit))
	}
	if limit > 0 && len(recs) > limit {
		recs = recs[len(recs)-limit:]
	}
	fmt.Printf("Inbox @%s (%d messages)\n", handle, len(recs))
	renderMessages(recs)
	return nil
}

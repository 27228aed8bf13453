package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/dcmsg/internal/inbox"
)

func newSendCmd() *cobra.Command {
	var (
		priority string
		thread   string
		replyTo  string
	)

	cmd := &cobra.Command{
		Use:   "send <to> <text...>",
		Short: "Send a message",
		Long: `Append a message to the recipient's local inbox and, when a relay
is configured, deliver it live. "claude" addresses your own agent.

Examples:
  dcmsg send bob "lunch at noon?"
  dcmsg send claude "refactor the parser" --priority high
  dcmsg send bob-claude "please look at issue 42"`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(args[0], strings.Join(args[1:], " "), priority, thread, replyTo)
		},
	}

	cmd.Flags().StringVar(&priority, "priority", "normal", "message priority: normal|high")
	cmd.Flags().StringVar(&thread, "thread", "", "thread identifier")
	cmd.Flags().StringVar(&replyTo, "reply-to", "", "id of the message being replied to")
	return cmd
}

func runSend(to, text, priority, thread, replyTo string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := requireRoot(cfg); err != nil {
		return err
	}
	if err := requireUser(cfg); err != nil {
		return err
	}
	if priority != string(inbox.PriorityNormal) && priority != string(inbox.PriorityHigh) {
		return fmt.Errorf("invalid priority %q (want normal or high)", priority)
	}

	out, err := deliver(cfg, newStore(cfg), &inbox.Record{
		From:     cfg.User,
		To:       to,
		Text:     text,
		Priority: inbox.Priority(priority),
		Thread:   thread,
		ReplyTo:  replyTo,
	})
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(out)
	}
	switch {
	case out.Delivered:
		fmt.Printf("Delivered to @%s (%s)\n", out.To, out.MsgID)
	case out.AutoReplied:
		fmt.Printf("Refused by @%s's whitelist; auto-reply received (%s)\n", out.To, out.MsgID)
	default:
		fmt.Printf("@%s is offline; written to their inbox (%s)\n", out.To, out.MsgID)
	}
	return nil
}

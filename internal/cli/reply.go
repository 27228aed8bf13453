package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/dcmsg/internal/inbox"
	"github.com/Dicklesworthstone/dcmsg/internal/queue"
	"github.com/Dicklesworthstone/dcmsg/internal/robot"
	"github.com/Dicklesworthstone/dcmsg/internal/sidechannel"
)

func newReplyCmd() *cobra.Command {
	var (
		complete bool
		routes   []string
		handle   string
	)

	cmd := &cobra.Command{
		Use:   "reply <id> <text...>",
		Short: "Reply to a message, preserving its thread",
		Long: `Send a reply addressed to the original author. The reply inherits the
original's thread (or starts one rooted at it). Agents finishing a task
typically combine --complete with one or more --route targets.

Examples:
  dcmsg reply msg-20260312-091502-bob "done, see the PR"
  dcmsg reply 091502-bob "fixed" --complete --route issue:42 --route file:notes/log.md`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReply(args[0], strings.Join(args[1:], " "), complete, routes, handle)
		},
	}

	cmd.Flags().BoolVar(&complete, "complete", false, "also complete the task in the agent queue")
	cmd.Flags().StringArrayVar(&routes, "route", nil, "extra delivery target: issue:<n>, file:<path> or @<user> (repeatable)")
	cmd.Flags().StringVar(&handle, "handle", "", "agent inbox handle for --complete (default <user>-claude)")
	return cmd
}

func runReply(idPart, text string, complete bool, routeArgs []string, handle string) error {
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

	store := newStore(cfg)
	_, orig, err := resolveID(store, []string{cfg.User, agentHandle(cfg)}, idPart)
	if err != nil {
		return err
	}

	out, err := deliver(cfg, store, &inbox.Record{
		From:    cfg.User,
		To:      orig.From,
		Text:    text,
		ReplyTo: orig.ID,
		Thread:  orig.Thread,
	})
	if err != nil {
		return err
	}

	if complete {
		if handle == "" {
			handle = agentHandle(cfg)
		}
		q := queue.New(store, handle, cfg.Queue.PendingLimit)
		if err := q.Complete(orig.ID, time.Now()); err != nil {
			return fmt.Errorf("reply sent (%s) but complete failed: %w", out.MsgID, err)
		}
	}

	if len(routeArgs) > 0 {
		router := sidechannel.NewRouter(store, cfg.SideChannel.IssueCommand)
		results := router.Route(context.Background(), routeArgs, &inbox.Record{
			From:    cfg.User,
			Time:    time.Now(),
			Text:    text,
			Thread:  out.Thread,
			ReplyTo: orig.ID,
		})
		for _, res := range results {
			out.Routes = append(out.Routes, robot.RouteInfo{
				Target: res.Target, OK: res.OK, Summary: res.Summary,
			})
		}
	}

	if IsJSONOutput() {
		return printJSON(out)
	}
	fmt.Printf("Replied to @%s (%s, thread %s)\n", orig.From, out.MsgID, out.Thread)
	if complete {
		fmt.Printf("Completed %s.\n", orig.ID)
	}
	if len(out.Routes) > 0 {
		fmt.Println(summarizeRoutes(out.Routes))
	}
	return nil
}

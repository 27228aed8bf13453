package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/dcmsg/internal/queue"
	"github.com/Dicklesworthstone/dcmsg/internal/robot"
	"github.com/Dicklesworthstone/dcmsg/internal/sidechannel"
	"github.com/Dicklesworthstone/dcmsg/internal/util"
)

func newTasksCmd() *cobra.Command {
	var handle string

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Drive the agent task queue",
		Long: `Operate the single-in-flight task queue backed by an agent inbox.
An agent loop is three calls: "tasks next" to claim work, do the work,
"tasks complete <id>" to release the slot.

Examples:
  dcmsg tasks next --json
  dcmsg tasks status
  dcmsg tasks complete msg-20260312-091502-bob
  dcmsg tasks clear`,
	}
	cmd.PersistentFlags().StringVar(&handle, "handle", "", "agent inbox handle (default <user>-claude)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "next",
			Short: "Claim the next pending task",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runTasksNext(handle)
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show the queue state",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runTasksStatus(handle)
			},
		},
		newTasksCompleteCmd(&handle),
		&cobra.Command{
			Use:   "clear",
			Short: "Abandon the working task, returning it to pending",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runTasksClear(handle)
			},
		},
	)
	return cmd
}

func newQueue(handle string) (*queue.Queue, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := requireRoot(cfg); err != nil {
		return nil, err
	}
	if handle == "" {
		if err := requireUser(cfg); err != nil {
			return nil, err
		}
		handle = agentHandle(cfg)
	}
	return queue.New(newStore(cfg), handle, cfg.Queue.PendingLimit), nil
}

func runTasksNext(handle string) error {
	q, err := newQueue(handle)
	if err != nil {
		return err
	}
	task, status, err := q.Dispatch(time.Now())
	if errors.Is(err, queue.ErrBusy) {
		if IsJSONOutput() {
			out := robot.BuildQueue(q.Handle(), status, nil)
			out.Response = robot.ErrorResponse(err)
			return printJSON(out)
		}
		if status.Working != nil {
			fmt.Printf("Busy: %s is in flight (started %s)\n", status.Working.ID, status.Working.StartedAt)
		}
		return err
	}
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(robot.BuildQueue(q.Handle(), status, task))
	}
	if task == nil {
		fmt.Println("Queue empty.")
		return nil
	}
	fmt.Printf("Working on %s (from @%s, %s priority)\n", task.ID, task.From, task.Priority)
	fmt.Println(util.Indent(task.Text, "  "))
	return nil
}

func runTasksStatus(handle string) error {
	q, err := newQueue(handle)
	if err != nil {
		return err
	}
	status, err := q.Status()
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		return printJSON(robot.BuildQueue(q.Handle(), status, nil))
	}
	fmt.Printf("Queue @%s\n", q.Handle())
	if status.Working != nil {
		fmt.Printf("  working: %s (started %s)\n", status.Working.ID, status.Working.StartedAt)
	} else {
		fmt.Println("  working: none")
	}
	fmt.Printf("  pending: %d, completed: %d\n", status.PendingCount, status.Completed)
	for i := range status.Pending {
		p := &status.Pending[i]
		fmt.Printf("    %s  %s  %s\n", p.ID, p.Priority, util.Truncate(util.FirstLine(p.Text), 60))
	}
	return nil
}

func newTasksCompleteCmd(handle *string) *cobra.Command {
	var routes []string
	cmd := &cobra.Command{
		Use:   "complete <id>",
		Short: "Mark the working task done and free the slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTasksComplete(*handle, args[0], routes)
		},
	}
	cmd.Flags().StringArrayVar(&routes, "route", nil, "also deliver the task outcome to issue:<n>, file:<path> or @<user> (repeatable)")
	return cmd
}

func runTasksComplete(handle, id string, routeArgs []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	q, err := newQueue(handle)
	if err != nil {
		return err
	}
	if err := q.Complete(id, time.Now()); err != nil {
		return err
	}
	status, err := q.Status()
	if err != nil {
		return err
	}

	var routed []robot.RouteInfo
	if len(routeArgs) > 0 {
		store := newStore(cfg)
		task, err := store.Locate(id)
		if err != nil {
			return fmt.Errorf("completed %s but cannot locate it for routing: %w", id, err)
		}
		router := sidechannel.NewRouter(store, cfg.SideChannel.IssueCommand)
		for _, res := range router.Route(context.Background(), routeArgs, task) {
			routed = append(routed, robot.RouteInfo{Target: res.Target, OK: res.OK, Summary: res.Summary})
		}
	}

	if IsJSONOutput() {
		out := robot.BuildQueue(q.Handle(), status, nil)
		return printJSON(struct {
			robot.QueueOutput
			Routes []robot.RouteInfo `json:"routes,omitempty"`
		}{out, routed})
	}
	fmt.Printf("Completed %s; %d pending.\n", id, status.PendingCount)
	if len(routed) > 0 {
		fmt.Println(summarizeRoutes(routed))
	}
	return nil
}

func runTasksClear(handle string) error {
	q, err := newQueue(handle)
	if err != nil {
		return err
	}
	cleared, err := q.Clear()
	if err != nil {
		return err
	}

	if IsJSONOutput() {
		out := struct {
			robot.Response
			Handle  string `json:"handle"`
			Cleared string `json:"cleared,omitempty"`
		}{robot.NewResponse(true), q.Handle(), cleared}
		return printJSON(out)
	}
	if cleared == "" {
		fmt.Println("Nothing in flight.")
		return nil
	}
	fmt.Printf("Cleared %s; it is pending again.\n", cleared)
	return nil
}

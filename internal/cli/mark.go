package cli

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/dcmsg/internal/inbox"
	"github.com/Dicklesworthstone/dcmsg/internal/robot"
)

func newMarkCmd() *cobra.Command {
	var handle string

	cmd := &cobra.Command{
		Use:   "mark <id> <unread|todo|done|clear>",
		Short: "Change a message's status",
		Long: `Rewrite one message's status tag in place. The id may be a unique
suffix of the full message id; your own inbox and your agent's are
searched unless --handle narrows it.

Examples:
  dcmsg mark msg-20260312-091502-bob done
  dcmsg mark 091502-bob todo
  dcmsg mark 091502-bob clear --handle alice-claude`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMark(args[0], args[1], handle)
		},
	}
	cmd.Flags().StringVar(&handle, "handle", "", "only search this inbox")
	return cmd
}

func runMark(idPart, statusArg, handleFlag string) error {
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
	status, ok := inbox.ParseStatus(statusArg)
	if !ok {
		return fmt.Errorf("invalid status %q (want unread, todo, done or read)", statusArg)
	}

	handles := []string{cfg.User, agentHandle(cfg)}
	if handleFlag != "" {
		handles = []string{handleFlag}
	}
	store := newStore(cfg)
	handle, rec, err := resolveID(store, handles, idPart)
	if err != nil {
		return err
	}
	if err := store.Mark(handle, rec.ID, status); err != nil {
		return err
	}

	if IsJSONOutput() {
		out := struct {
			robot.Response
			Handle string `json:"handle"`
			MsgID  string `json:"msg_id"`
			Status string `json:"status"`
		}{robot.NewResponse(true), handle, rec.ID, string(status)}
		return printJSON(out)
	}
	fmt.Printf("Marked %s %s (inbox @%s)\n", rec.ID, status, handle)
	return nil
}

// resolveID finds the single record matching an id or id suffix across
// the given inboxes.
func resolveID(store *inbox.Store, handles []string, idPart string) (string, *inbox.Record, error) {
	matches, err := store.Match(handles, idPart)
	if err != nil {
		return "", nil, err
	}
	switch len(matches) {
	case 0:
		return "", nil, fmt.Errorf("no message matches %q", idPart)
	case 1:
		rec := matches[0]
		return handleOf(&rec), &rec, nil
	default:
		ids := make([]string, 0, len(matches))
		for i := range matches {
			ids = append(ids, matches[i].ID)
		}
		return "", nil, fmt.Errorf("ambiguous id %q matches: %s", idPart, strings.Join(ids, ", "))
	}
}

// handleOf recovers the inbox handle a record was parsed from.
func handleOf(rec *inbox.Record) string {
	return strings.TrimSuffix(filepath.Base(rec.Path), ".org")
}

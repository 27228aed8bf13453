// Package sidechannel routes a completion message to destinations beyond
// the primary recipient: issue-tracker comments, file appends, and CC
// copies into other users' inboxes. Targets are independent; one failure
// never blocks the rest.
package sidechannel

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Dicklesworthstone/dcmsg/internal/config"
	"github.com/Dicklesworthstone/dcmsg/internal/inbox"
)

// TargetKind discriminates the parsed routing targets.
type TargetKind string

const (
	KindIssue TargetKind = "issue"
	KindFile  TargetKind = "file"
	KindUser  TargetKind = "user"
)

// Target is one parsed routing destination.
type Target struct {
	Kind  TargetKind
	Issue int    // KindIssue
	Path  string // KindFile
	User  string // KindUser
}

// ParseTarget parses "issue:<number>", "file:<path>" or "@user".
func ParseTarget(raw string) (Target, error) {
	switch {
	case strings.HasPrefix(raw, "issue:"):
		n, err := strconv.Atoi(strings.TrimPrefix(raw, "issue:"))
		if err != nil || n <= 0 {
			return Target{}, fmt.Errorf("sidechannel: bad issue number in %q", raw)
		}
		return Target{Kind: KindIssue, Issue: n}, nil
	case strings.HasPrefix(raw, "file:"):
		path := strings.TrimPrefix(raw, "file:")
		if path == "" {
			return Target{}, fmt.Errorf("sidechannel: empty file path in %q", raw)
		}
		return Target{Kind: KindFile, Path: config.ExpandHome(path)}, nil
	case strings.HasPrefix(raw, "@") && len(raw) > 1:
		return Target{Kind: KindUser, User: raw[1:]}, nil
	}
	return Target{}, fmt.Errorf("sidechannel: unrecognized target %q (want issue:N, file:PATH or @user)", raw)
}

// Result is the one-line outcome of routing to a single target.
type Result struct {
	Target  string
	OK      bool
	Summary string
}

// Router fans a message out to side-channel targets.
type Router struct {
	store *inbox.Store
	// issueCommand is a shell template for posting an issue comment;
	// "{number}" is replaced with the issue number and the message body
	// arrives on stdin. E.g. `gh issue comment {number} --body-file -`.
	issueCommand string
}

func NewRouter(store *inbox.Store, issueCommand string) *Router {
	return &Router{store: store, issueCommand: issueCommand}
}

// Route evaluates every target independently and returns one Result per
// target, in input order.
func (r *Router) Route(ctx context.Context, targets []string, rec *inbox.Record) []Result {
	results := make([]Result, 0, len(targets))
	for _, raw := range targets {
		target, err := ParseTarget(raw)
		if err != nil {
			results = append(results, Result{Target: raw, Summary: err.Error()})
			continue
		}
		var res Result
		switch target.Kind {
		case KindIssue:
			res = r.routeIssue(ctx, target.Issue, rec)
		case KindFile:
			res = r.routeFile(target.Path, rec)
		case KindUser:
			res = r.routeCC(target.User, rec)
		}
		results = append(results, res)
	}
	return results
}

// routeIssue posts the body as an issue comment through the configured
// command-line collaborator.
func (r *Router) routeIssue(ctx context.Context, number int, rec *inbox.Record) Result {
	target := fmt.Sprintf("issue:%d", number)
	if r.issueCommand == "" {
		return Result{Target: target, Summary: "no issue command configured"}
	}
	cmdline := strings.ReplaceAll(r.issueCommand, "{number}", strconv.Itoa(number))

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "sh", "-c", cmdline)
	cmd.Stdin = strings.NewReader(rec.Text)
	if out, err := cmd.CombinedOutput(); err != nil {
		summary := fmt.Sprintf("issue comment failed: %v", err)
		if len(out) > 0 {
			summary = fmt.Sprintf("%s: %s", summary, strings.TrimSpace(string(out)))
		}
		return Result{Target: target, Summary: summary}
	}
	return Result{Target: target, OK: true, Summary: fmt.Sprintf("commented on issue #%d", number)}
}

// routeFile appends the formatted block to the file, creating parents.
func (r *Router) routeFile(path string, rec *inbox.Record) Result {
	target := "file:" + path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return Result{Target: target, Summary: fmt.Sprintf("create directory: %v", err)}
	}
	block := fmt.Sprintf("## %s (%s)\n\n%s\n", rec.From, rec.Time.Format("2006-01-02 15:04"), rec.Text)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return Result{Target: target, Summary: fmt.Sprintf("open: %v", err)}
	}
	_, err = f.WriteString(block)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return Result{Target: target, Summary: fmt.Sprintf("append: %v", err)}
	}
	return Result{Target: target, OK: true, Summary: "appended to " + path}
}

// routeCC writes a copy into the user's inbox, preserving thread and
// reply_to so the CC lands in the same conversation.
func (r *Router) routeCC(user string, rec *inbox.Record) Result {
	target := "@" + user
	cc := &inbox.Record{
		From:     rec.From,
		To:       user,
		Time:     rec.Time,
		Text:     rec.Text,
		Priority: rec.Priority,
		Thread:   rec.Thread,
		ReplyTo:  rec.ReplyTo,
	}
	id, err := r.store.Append(cc)
	if err != nil {
		return Result{Target: target, Summary: fmt.Sprintf("cc append: %v", err)}
	}
	return Result{Target: target, OK: true, Summary: fmt.Sprintf("cc'd @%s (%s)", user, id)}
}

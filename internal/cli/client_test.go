package cli

import (
	"testing"
	"time"

	"github.com/Dicklesworthstone/dcmsg/internal/config"
	"github.com/Dicklesworthstone/dcmsg/internal/inbox"
	"github.com/Dicklesworthstone/dcmsg/internal/watch"
)

// Without a relay secret the client degrades to inbox-only: sends still
// land in the recipient's file, reported as queued rather than failing.
func TestClientSendWithoutRelay(t *testing.T) {
	cfg := &config.Config{User: "alice"}
	store := inbox.NewStore(t.TempDir(), "default")
	watcher := watch.New(store, "alice", time.Second, watch.NopNotifier{})

	out, err := clientSend(cfg, store, nil, watcher, "bob", "lunch?", "normal")
	if err != nil {
		t.Fatalf("clientSend: %v", err)
	}
	if !out.Queued {
		t.Errorf("out = %+v, want queued without a relay connection", out)
	}
	if out.To != "bob" || out.MsgID == "" {
		t.Errorf("out = %+v", out)
	}

	recs, err := store.Scan("bob", inbox.Filter{})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(recs) != 1 || recs[0].Text != "lunch?" {
		t.Errorf("bob's inbox = %+v, want the queued message", recs)
	}
}

// The claude shortcut still resolves to the sender's own agent inbox
// when the relay path is disabled.
func TestClientSendClaudeShortcutWithoutRelay(t *testing.T) {
	cfg := &config.Config{User: "alice"}
	store := inbox.NewStore(t.TempDir(), "default")
	watcher := watch.New(store, "alice", time.Second, watch.NopNotifier{})

	out, err := clientSend(cfg, store, nil, watcher, "claude", "summarize inbox", "high")
	if err != nil {
		t.Fatalf("clientSend: %v", err)
	}
	if out.To != "alice-claude" {
		t.Errorf("to = %q, want alice-claude", out.To)
	}
	recs, err := store.Scan("alice-claude", inbox.Filter{})
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(recs) != 1 || recs[0].Priority != inbox.PriorityHigh {
		t.Errorf("agent inbox = %+v", recs)
	}
}

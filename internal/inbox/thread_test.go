package inbox

import (
	"testing"
)

func TestResolveAdoptsParentThread(t *testing.T) {
	s := newTestStore(t)
	parent := appendMsg(t, s, "alice", "bob", "root of discussion", func(r *Record) {
		r.Thread = "thread-planning"
	})

	r := NewThreadResolver(s)
	if got := r.Resolve(parent); got != "thread-planning" {
		t.Errorf("Resolve(%s) = %q, want thread-planning", parent, got)
	}
}

func TestResolveSynthesizesWhenParentHasNoThread(t *testing.T) {
	s := newTestStore(t)
	parent := appendMsg(t, s, "alice", "bob", "no thread yet")

	r := NewThreadResolver(s)
	if got := r.Resolve(parent); got != "thread-"+parent {
		t.Errorf("Resolve(%s) = %q, want thread-%s", parent, got, parent)
	}
}

func TestResolveUnlocatableParent(t *testing.T) {
	s := newTestStore(t)
	r := NewThreadResolver(s)

	// A reply to an id that is not on disk still gets a deterministic
	// thread, so later replies to the same parent converge.
	const parent = "msg-20260312-091502-bob"
	if got := r.Resolve(parent); got != "thread-"+parent {
		t.Errorf("Resolve(%s) = %q, want thread-%s", parent, got, parent)
	}
	if got := r.Resolve(parent); got != "thread-"+parent {
		t.Errorf("second Resolve(%s) = %q", parent, got)
	}
}

func TestResolveChainConvergesOnRootThread(t *testing.T) {
	s := newTestStore(t)
	root := appendMsg(t, s, "alice", "bob", "question")

	r := NewThreadResolver(s)
	thread := r.Resolve(root)
	reply := appendMsg(t, s, "bob", "alice", "answer", func(rec *Record) {
		rec.Thread = thread
		rec.ReplyTo = root
	})

	// A reply to the reply lands in the same thread as the root.
	if got := r.Resolve(reply); got != thread {
		t.Errorf("Resolve(%s) = %q, want %q", reply, got, thread)
	}
}

func TestResolveCachesResult(t *testing.T) {
	s := newTestStore(t)
	parent := appendMsg(t, s, "alice", "bob", "cached", func(r *Record) {
		r.Thread = "thread-ops"
	})

	r := NewThreadResolver(s)
	if got := r.Resolve(parent); got != "thread-ops" {
		t.Fatalf("Resolve(%s) = %q", parent, got)
	}

	// The cache pins the answer even if the parent record disappears.
	if _, err := s.Delete("bob", parent); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got := r.Resolve(parent); got != "thread-ops" {
		t.Errorf("Resolve(%s) after delete = %q, want cached thread-ops", parent, got)
	}
}

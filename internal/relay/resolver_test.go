package relay

import (
	"strings"
	"testing"
)

func noOwner(string) ([]string, bool) { return nil, false }

func TestResolveAgentSelfShortcut(t *testing.T) {
	res := ResolveAgent("alice", "claude", noOwner)
	if res.Target != "alice-claude" {
		t.Errorf("target = %q, want alice-claude", res.Target)
	}
	if !res.Allowed {
		t.Error("self shortcut must always be allowed")
	}
}

func TestResolveAgentPlainAddress(t *testing.T) {
	res := ResolveAgent("alice", "bob", func(string) ([]string, bool) {
		t.Error("whitelist consulted for a non-agent address")
		return nil, false
	})
	if res.Target != "bob" || !res.Allowed {
		t.Errorf("got %+v, want bob allowed unchanged", res)
	}
}

func TestResolveAgentOfflineOwner(t *testing.T) {
	res := ResolveAgent("mallory", "bob-claude", noOwner)
	if res.Target != "bob-claude" || !res.Allowed {
		t.Errorf("offline owner: got %+v, want routed like a regular offline user", res)
	}
}

func TestResolveAgentEmptyWhitelistAllows(t *testing.T) {
	res := ResolveAgent("mallory", "bob-claude", func(owner string) ([]string, bool) {
		if owner != "bob" {
			t.Errorf("owner = %q, want bob", owner)
		}
		return nil, true
	})
	if !res.Allowed {
		t.Error("empty whitelist must allow everyone")
	}
}

func TestResolveAgentWhitelistRefusal(t *testing.T) {
	whitelist := func(string) ([]string, bool) { return []string{"alice"}, true }

	res := ResolveAgent("alice", "bob-claude", whitelist)
	if !res.Allowed {
		t.Error("whitelisted sender refused")
	}

	res = ResolveAgent("mallory", "bob-claude", whitelist)
	if res.Allowed {
		t.Fatal("non-whitelisted sender allowed")
	}
	if res.Target != "bob-claude" {
		t.Errorf("target = %q, want bob-claude", res.Target)
	}
	want := "Auto-reply: @bob-claude is not accepting messages from @mallory."
	if res.AutoReply != want {
		t.Errorf("auto-reply = %q, want %q", res.AutoReply, want)
	}
}

func TestResolveAgentBareSuffix(t *testing.T) {
	// "-claude" with no owner is not an agent address.
	res := ResolveAgent("alice", "-claude", func(string) ([]string, bool) {
		t.Error("whitelist consulted for bare suffix")
		return nil, false
	})
	if !res.Allowed {
		t.Error("bare suffix should route as a plain handle")
	}
}

func TestResolveAgentIsPure(t *testing.T) {
	calls := 0
	whitelist := func(string) ([]string, bool) {
		calls++
		return []string{"alice"}, true
	}
	for i := 0; i < 3; i++ {
		res := ResolveAgent("mallory", "bob-claude", whitelist)
		if res.Allowed || !strings.Contains(res.AutoReply, "@mallory") {
			t.Fatalf("iteration %d: got %+v", i, res)
		}
	}
	if calls != 3 {
		t.Errorf("whitelist consulted %d times, want once per call", calls)
	}
}

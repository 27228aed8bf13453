package relay

import (
	"fmt"
	"strings"
)

// AgentSuffix turns a handle into its agent handle.
const AgentSuffix = "-claude"

// Resolution is the outcome of agent address resolution for one send.
type Resolution struct {
	// Target is the handle the message should actually go to.
	Target string
	// Allowed is false when the owner's whitelist refused the sender.
	Allowed bool
	// AutoReply carries the refusal text sent back to the sender when
	// Allowed is false.
	AutoReply string
}

// WhitelistFunc looks up the claude whitelist of an online owner. The
// second return is false when the owner has no live session, in which
// case no whitelist applies and the agent handle is routed like any
// offline user.
type WhitelistFunc func(owner string) ([]string, bool)

// ResolveAgent applies the agent addressing rules to (from, to):
// "claude" is the sender's own agent, "<owner>-claude" consults the
// owner's whitelist when the owner is online. The function is pure; all
// relay state comes in through whitelist.
func ResolveAgent(from, to string, whitelist WhitelistFunc) Resolution {
	if to == "claude" {
		return Resolution{Target: from + AgentSuffix, Allowed: true}
	}
	owner, isAgent := strings.CutSuffix(to, AgentSuffix)
	if !isAgent || owner == "" {
		return Resolution{Target: to, Allowed: true}
	}
	list, online := whitelist(owner)
	if !online || len(list) == 0 {
		return Resolution{Target: to, Allowed: true}
	}
	for _, peer := range list {
		if peer == from {
			return Resolution{Target: to, Allowed: true}
		}
	}
	return Resolution{
		Target:  to,
		Allowed: false,
		AutoReply: fmt.Sprintf("Auto-reply: @%s is not accepting messages from @%s.",
			to, from),
	}
}

package tui

import (
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Dicklesworthstone/dcmsg/internal/inbox"
	"github.com/Dicklesworthstone/dcmsg/internal/relay"
)

const helpText = `Commands:
  @user <text>        send a message (@claude reaches your own agent)
  @user ! <text>      send with high priority
  /online             who is connected
  /my-messages [N]    last N inbox messages (default 10)
  /mark <id> <status> set a message status (unread|todo|done|read)
  /todo <id>          shorthand for /mark <id> todo
  /done <id>          shorthand for /mark <id> done
  /status <presence>  online|busy|away|focusing
  /quit               leave`

// handleInput dispatches one submitted compose line.
func (m *model) handleInput(raw string) (tea.Model, tea.Cmd) {
	switch {
	case strings.HasPrefix(raw, "/"):
		return m.runSlash(raw)
	case strings.HasPrefix(raw, "@"):
		m.send(raw)
		return m, nil
	default:
		m.say(mutedStyle.Render("-- start with @user to send, or /help"))
		return m, nil
	}
}

// send parses "@user text" (with an optional "!" priority marker after
// the handle) and pushes it through the live send path.
func (m *model) send(raw string) {
	to, rest, _ := strings.Cut(raw[1:], " ")
	rest = strings.TrimSpace(rest)
	if to == "" || rest == "" {
		m.say(mutedStyle.Render("-- usage: @user <text>"))
		return
	}
	priority := string(inbox.PriorityNormal)
	if body, ok := strings.CutPrefix(rest, "! "); ok {
		priority = string(inbox.PriorityHigh)
		rest = body
	}

	out, err := m.opts.Send(to, rest, priority)
	if err != nil {
		m.say(errStyle.Render("-- send failed: " + err.Error()))
		return
	}
	body := rest
	if priority == string(inbox.PriorityHigh) {
		body = highStyle.Render("! ") + rest
	}
	m.say(fmt.Sprintf("%s %s", selfStyle.Render("@"+m.opts.Username+" → @"+out.To+":"), body))
	if out.Queued {
		m.say(mutedStyle.Render("-- not connected; kept in the local inbox"))
	}
}

func (m *model) runSlash(raw string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(raw)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/help":
		m.say(mutedStyle.Render(helpText))

	case "/quit":
		return m, tea.Quit

	case "/online":
		roster := m.sortedRoster()
		if len(roster) == 0 {
			m.say(mutedStyle.Render("-- nobody online"))
			break
		}
		m.say(mutedStyle.Render("-- online:"))
		for _, line := range roster {
			m.say("   " + line)
		}

	case "/my-messages":
		n := 10
		if len(args) > 0 {
			if v, err := strconv.Atoi(args[0]); err == nil && v > 0 {
				n = v
			}
		}
		m.showMessages(n)

	case "/mark":
		if len(args) != 2 {
			m.say(mutedStyle.Render("-- usage: /mark <id> <unread|todo|done|read>"))
			break
		}
		m.mark(args[0], args[1])

	case "/todo":
		if len(args) != 1 {
			m.say(mutedStyle.Render("-- usage: /todo <id>"))
			break
		}
		m.mark(args[0], "todo")

	case "/done":
		if len(args) != 1 {
			m.say(mutedStyle.Render("-- usage: /done <id>"))
			break
		}
		m.mark(args[0], "done")

	case "/status":
		if len(args) != 1 || !relay.ValidStatuses[args[0]] {
			m.say(mutedStyle.Render("-- usage: /status online|busy|away|focusing"))
			break
		}
		if err := m.opts.SetStatus(args[0]); err != nil {
			m.say(errStyle.Render("-- status change failed: " + err.Error()))
			break
		}
		m.status = args[0]
		m.say(mutedStyle.Render("-- status set to " + args[0]))

	default:
		m.say(mutedStyle.Render(fmt.Sprintf("-- unknown command %s; /help lists them", cmd)))
	}
	return m, nil
}

// showMessages renders the newest n records of the user's own inbox.
func (m *model) showMessages(n int) {
	recs, err := m.opts.Store.Scan(m.opts.Username, inbox.Filter{})
	if err != nil {
		m.say(errStyle.Render("-- inbox scan failed: " + err.Error()))
		return
	}
	if len(recs) == 0 {
		m.say(mutedStyle.Render("-- inbox empty"))
		return
	}
	if len(recs) > n {
		recs = recs[len(recs)-n:]
	}
	m.say(mutedStyle.Render(fmt.Sprintf("-- last %d messages:", len(recs))))
	for i := range recs {
		r := &recs[i]
		ts := ""
		if !r.Time.IsZero() {
			ts = r.Time.Format("2006-01-02 15:04")
		}
		m.say(fmt.Sprintf("   %s  %s  %s  [%s] %s",
			r.ID, timeStyle.Render(ts), peerStyle.Render("@"+r.From), r.Status, r.Text))
	}
	m.unread = 0
}

// mark resolves an id (full or unique suffix) across the user's and
// agent's inboxes and rewrites its status tag.
func (m *model) mark(idPart, statusArg string) {
	status, ok := inbox.ParseStatus(statusArg)
	if !ok {
		m.say(mutedStyle.Render("-- invalid status " + statusArg))
		return
	}
	matches, err := m.opts.Store.Match([]string{m.opts.Username, m.opts.Agent}, idPart)
	if err != nil {
		m.say(errStyle.Render("-- mark failed: " + err.Error()))
		return
	}
	switch len(matches) {
	case 0:
		m.say(mutedStyle.Render("-- no message matches " + idPart))
	case 1:
		handle := m.opts.Username
		if strings.Contains(matches[0].Path, m.opts.Agent+".org") {
			handle = m.opts.Agent
		}
		if err := m.opts.Store.Mark(handle, matches[0].ID, status); err != nil {
			m.say(errStyle.Render("-- mark failed: " + err.Error()))
			return
		}
		m.say(mutedStyle.Render(fmt.Sprintf("-- %s marked %s", matches[0].ID, status)))
	default:
		m.say(mutedStyle.Render("-- ambiguous id " + idPart))
	}
}

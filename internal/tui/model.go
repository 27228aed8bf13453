package tui

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/Dicklesworthstone/dcmsg/internal/events"
	"github.com/Dicklesworthstone/dcmsg/internal/inbox"
)

type model struct {
	opts Options

	vp    viewport.Model
	input textinput.Model
	ready bool

	width  int
	height int

	lines []string // rendered scrollback, one entry per logical line

	connected bool
	status    string
	online    []string
	statuses  map[string]string
	unread    int
}

func newModel(opts Options) *model {
	ti := textinput.New()
	ti.Placeholder = "@user message, or /help"
	ti.Prompt = "> "
	ti.CharLimit = 4096
	ti.Focus()

	return &model{
		opts:     opts,
		input:    ti,
		status:   "online",
		statuses: map[string]string{},
		lines: []string{
			mutedStyle.Render("dcmsg — /help for commands"),
		},
	}
}

func (m *model) Init() tea.Cmd {
	return textinput.Blink
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vpHeight := msg.Height - 3 // header, input, footer
		if vpHeight < 1 {
			vpHeight = 1
		}
		if !m.ready {
			m.vp = viewport.New(msg.Width, vpHeight)
			m.ready = true
		} else {
			m.vp.Width = msg.Width
			m.vp.Height = vpHeight
		}
		m.input.Width = msg.Width - 4
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit
		case tea.KeyEnter:
			raw := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if raw == "" {
				return m, nil
			}
			return m.handleInput(raw)
		}

	case busMsg:
		m.handleEvent(msg.ev)
		return m, nil

	case localMsg:
		m.handleLocal(&msg.rec)
		return m, nil
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.vp, cmd = m.vp.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *model) View() string {
	if !m.ready {
		return "loading..."
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.headerView(),
		m.vp.View(),
		m.input.View(),
		m.footerView(),
	)
}

func (m *model) headerView() string {
	title := fmt.Sprintf("dcmsg  @%s", m.opts.Username)
	return headerStyle.Width(m.width).Render(title)
}

// footerView is the presence line: own handle and status, connection
// state, who is online, and the unread count.
func (m *model) footerView() string {
	conn := "offline"
	if m.connected {
		conn = "connected"
	}
	if m.opts.RelayDisabled {
		conn = "relay disabled"
	}
	dot := statusDot[m.status]
	if dot == "" {
		dot = "●"
	}
	left := fmt.Sprintf("%s @%s (%s) | %s | online: %d | unread: %d",
		dot, m.opts.Username, m.status, conn, len(m.online), m.unread)
	return footerStyle.Width(m.width).Render(left)
}

// say appends rendered lines to the scrollback, wrapped to the viewport.
func (m *model) say(line string) {
	wrapped := line
	if m.ready && m.vp.Width > 4 {
		wrapped = wordwrap.String(line, m.vp.Width-2)
	}
	m.lines = append(m.lines, strings.Split(wrapped, "\n")...)
	m.refresh()
}

func (m *model) refresh() {
	if !m.ready {
		return
	}
	m.vp.SetContent(strings.Join(m.lines, "\n"))
	m.vp.GotoBottom()
}

func (m *model) handleEvent(ev events.Event) {
	switch e := ev.(type) {
	case events.MessageReceived:
		m.sayMessage(e.Frame.Timestamp, e.Frame.From, e.Frame.Text, e.Frame.Priority, e.Frame.AutoReply)
		m.unread++
		if m.opts.Bell && e.Frame.Priority == string(inbox.PriorityHigh) {
			os.Stdout.WriteString("\a")
		}
	case events.PresenceChanged:
		if e.Frame.Online != nil {
			m.online = e.Frame.Online
		}
		if e.Frame.Statuses != nil {
			m.statuses = e.Frame.Statuses
		}
		if e.Frame.User != "" && e.Frame.User != m.opts.Username {
			m.say(mutedStyle.Render(fmt.Sprintf("-- @%s is %s", e.Frame.User, e.Frame.Status)))
		}
	case events.SendAcked:
		if !e.Frame.Delivered && !e.Frame.AutoReplied {
			m.say(mutedStyle.Render(fmt.Sprintf("-- @%s is offline; message kept in their inbox", e.Frame.To)))
		}
	case events.ConnectionChanged:
		m.connected = e.Connected
		if e.Connected {
			m.online = e.Online
			if e.Statuses != nil {
				m.statuses = e.Statuses
			}
			m.say(mutedStyle.Render("-- relay connected"))
		} else {
			m.say(mutedStyle.Render("-- relay disconnected, retrying"))
		}
	case events.RelayError:
		m.say(errStyle.Render("-- relay error: " + e.Message))
	}
}

// handleLocal surfaces a record that reached the inbox file without
// passing through this connection (another terminal, a shared root).
func (m *model) handleLocal(rec *inbox.Record) {
	ts := ""
	if !rec.Time.IsZero() {
		ts = rec.Time.Format("15:04")
	}
	m.sayMessage(ts, rec.From, rec.Text, string(rec.Priority), false)
	m.unread++
}

func (m *model) sayMessage(ts, from, text, priority string, autoReply bool) {
	style := peerStyle
	if strings.HasSuffix(from, "-claude") || autoReply {
		style = agentStyle
	}
	body := text
	if priority == string(inbox.PriorityHigh) {
		body = highStyle.Render("! ") + text
	}
	stamp := ""
	if ts != "" {
		stamp = timeStyle.Render(shortTime(ts)) + " "
	}
	m.say(fmt.Sprintf("%s%s %s", stamp, style.Render("@"+from+":"), body))
}

// shortTime trims a wire timestamp ("2006-01-02 15:04") to the clock.
func shortTime(ts string) string {
	if t, err := time.Parse("2006-01-02 15:04", ts); err == nil {
		return t.Format("15:04")
	}
	return ts
}

// sortedRoster renders the online list with status dots, sorted for
// stable output.
func (m *model) sortedRoster() []string {
	users := append([]string(nil), m.online...)
	sort.Strings(users)
	out := make([]string, 0, len(users))
	for _, u := range users {
		status := m.statuses[u]
		if status == "" {
			status = "online"
		}
		dot := statusDot[status]
		if dot == "" {
			dot = "●"
		}
		out = append(out, fmt.Sprintf("%s @%s (%s)", dot, u, status))
	}
	return out
}

// Package tui is the full-screen message window: a scrollback viewport,
// a compose line, and a presence footer. It renders what the event bus
// delivers; persistence happens upstream, before a frame ever reaches
// the screen.
package tui

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Dicklesworthstone/dcmsg/internal/events"
	"github.com/Dicklesworthstone/dcmsg/internal/inbox"
	"github.com/Dicklesworthstone/dcmsg/internal/robot"
)

// Options wires the window to the rest of the client.
type Options struct {
	Username string
	Agent    string

	Store *inbox.Store
	Bus   *events.Bus
	// Local is the watcher stream: records that appeared in the inbox
	// file without coming through the relay connection.
	Local <-chan inbox.Record

	// Send is the live send path (local append + relay submit).
	Send func(to, text, priority string) (robot.SendOutput, error)
	// SetStatus submits a presence change on the open connection.
	SetStatus func(status string) error

	// RelayDisabled marks inbox-only mode: no secret is configured, so
	// there is no connection to wait for.
	RelayDisabled bool

	Bell bool
}

// busMsg carries one bus event into the bubbletea loop.
type busMsg struct{ ev events.Event }

// localMsg carries one watcher record into the bubbletea loop.
type localMsg struct{ rec inbox.Record }

// Run drives the window until the user quits or ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	p := tea.NewProgram(newModel(opts), tea.WithAltScreen(), tea.WithContext(ctx))

	evs, cancel := opts.Bus.Subscribe(128)
	defer cancel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-evs:
				if !ok {
					return
				}
				p.Send(busMsg{ev: ev})
			case rec, ok := <-opts.Local:
				if !ok {
					return
				}
				p.Send(localMsg{rec: rec})
			}
		}
	}()

	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

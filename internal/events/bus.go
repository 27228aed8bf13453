// Package events fans relay-client frames out to in-process consumers:
// the TUI, the inbox watcher, and log subscribers. Publishing never
// blocks; a slow consumer loses events rather than stalling the network
// task.
package events

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Dicklesworthstone/dcmsg/internal/relay"
)

// Event is anything the bus can carry.
type Event interface {
	EventType() string
}

// MessageReceived is an inbound message frame, including auto-replies.
type MessageReceived struct {
	Frame relay.ServerFrame
}

func (MessageReceived) EventType() string { return "message.received" }

// PresenceChanged is a roster delta: join, leave, or status change.
type PresenceChanged struct {
	Frame relay.ServerFrame
}

func (PresenceChanged) EventType() string { return "presence.changed" }

// SendAcked reports the outcome of a send the local user submitted.
type SendAcked struct {
	Frame relay.ServerFrame
}

func (SendAcked) EventType() string { return "send.acked" }

// ConnectionChanged reports the relay link coming up or going down.
type ConnectionChanged struct {
	Connected bool
	Online    []string
	Statuses  map[string]string
}

func (ConnectionChanged) EventType() string { return "connection.changed" }

// RelayError is an error frame from the server.
type RelayError struct {
	Message string
}

func (RelayError) EventType() string { return "relay.error" }

// Bus is a fan-out of Events to any number of subscribers.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe returns a receive channel and its cancel function. Cancel is
// idempotent and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber, dropping it for any
// whose buffer is full.
func (b *Bus) Publish(ev Event) {
	if ev == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			slog.Debug("event dropped (subscriber buffer full)", "event_type", ev.EventType())
		}
	}
}

// SubscriberCount reports how many subscriptions are live.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Pump reads the relay client's frame stream and publishes the typed
// event for each frame until ctx is cancelled or the stream closes.
func Pump(ctx context.Context, frames <-chan relay.ServerFrame, bus *Bus) {
	connected := false
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				if connected {
					bus.Publish(ConnectionChanged{})
				}
				return
			}
			switch frame.Type {
			case relay.TypeAuthOK:
				connected = true
				bus.Publish(ConnectionChanged{Connected: true, Online: frame.Online, Statuses: frame.Statuses})
			case relay.TypeAuthError:
				connected = false
				bus.Publish(ConnectionChanged{})
				bus.Publish(RelayError{Message: frame.Message})
			case relay.TypeMessage:
				bus.Publish(MessageReceived{Frame: frame})
			case relay.TypePresenceChange, relay.TypePresence:
				bus.Publish(PresenceChanged{Frame: frame})
			case relay.TypeSendAck:
				bus.Publish(SendAcked{Frame: frame})
			case relay.TypeError:
				bus.Publish(RelayError{Message: frame.Message})
			}
		}
	}
}

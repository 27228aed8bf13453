package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ReconnectDelay is the fixed backoff between client dial attempts.
const ReconnectDelay = 5 * time.Second

// ErrNotConnected reports a send attempted while the client has no
// authenticated connection.
var ErrNotConnected = errors.New("relay: not connected")

// ClientConfig names the relay a client dials and how it authenticates.
type ClientConfig struct {
	URL             string
	Secret          string
	Username        string
	Status          string
	ClaudeWhitelist []string
	Heartbeat       time.Duration
}

// Client maintains one authenticated relay connection, redialing with a
// fixed backoff when it drops. Inbound frames fan out through Frames();
// outbound sends go through Send and are written by a single goroutine.
type Client struct {
	cfg    ClientConfig
	frames chan ServerFrame
	out    chan []byte

	mu        sync.Mutex
	connected bool
}

func NewClient(cfg ClientConfig) *Client {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	return &Client{
		cfg:    cfg,
		frames: make(chan ServerFrame, sendBuffer),
		out:    make(chan []byte, sendBuffer),
	}
}

// Frames returns the inbound frame stream. Closed when Run exits.
func (c *Client) Frames() <-chan ServerFrame { return c.frames }

// Connected reports whether an authenticated connection is live.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Client) setConnected(v bool) {
	c.mu.Lock()
	c.connected = v
	c.mu.Unlock()
}

// Send queues a frame for the writer goroutine. Fails fast when the
// connection is down so the caller can fall back to inbox-only mode.
func (c *Client) Send(frame any) error {
	if !c.Connected() {
		return ErrNotConnected
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("relay: marshal frame: %w", err)
	}
	select {
	case c.out <- data:
		return nil
	default:
		return fmt.Errorf("relay: send queue full")
	}
}

// SendMessage submits a message for routing.
func (c *Client) SendMessage(f *SendFrame) error {
	f.Type = TypeSend
	return c.Send(f)
}

// SetStatus submits a presence status change.
func (c *Client) SetStatus(status string) error {
	return c.Send(&StatusChangeFrame{Type: TypeStatusChange, Status: status})
}

// Run dials and re-dials the relay until ctx is cancelled, closing the
// frame stream on exit. Each connection failure costs one fixed delay.
func (c *Client) Run(ctx context.Context) {
	defer close(c.frames)
	for {
		if err := c.runOnce(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("relay connection lost", "url", c.cfg.URL, "err", err)
		}
		c.setConnected(false)
		select {
		case <-ctx.Done():
			return
		case <-time.After(ReconnectDelay):
		}
	}
}

// runOnce performs one dial, auth handshake, and read loop.
func (c *Client) runOnce(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, c.cfg.URL, nil)
	cancel()
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	if resp != nil && resp.StatusCode == http.StatusUnauthorized {
		conn.Close()
		return fmt.Errorf("dial %s: unauthorized", c.cfg.URL)
	}
	defer conn.Close()

	auth := AuthFrame{
		Type:            TypeAuth,
		Secret:          c.cfg.Secret,
		Username:        c.cfg.Username,
		Status:          c.cfg.Status,
		ClaudeWhitelist: c.cfg.ClaudeWhitelist,
	}
	data, err := json.Marshal(auth)
	if err != nil {
		return fmt.Errorf("marshal auth: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write auth: %w", err)
	}

	// First frame decides the connection's fate.
	var first ServerFrame
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	if err := conn.ReadJSON(&first); err != nil {
		return fmt.Errorf("read auth reply: %w", err)
	}
	if first.Type == TypeAuthError {
		return fmt.Errorf("auth rejected: %s", first.Message)
	}
	if first.Type != TypeAuthOK {
		return fmt.Errorf("unexpected auth reply %q", first.Type)
	}
	c.setConnected(true)
	slog.Info("relay connected", "url", c.cfg.URL, "user", c.cfg.Username)
	c.deliver(first)

	connCtx, cancelConn := context.WithCancel(ctx)
	defer cancelConn()

	// Writer: owns the socket write path, including heartbeat pings.
	writeDone := make(chan error, 1)
	go func() {
		ticker := time.NewTicker(c.cfg.Heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-connCtx.Done():
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				writeDone <- nil
				return
			case data := <-c.out:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
					writeDone <- err
					return
				}
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					writeDone <- err
					return
				}
			}
		}
	}()

	pongWait := 2 * c.cfg.Heartbeat
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var frame ServerFrame
		if err := conn.ReadJSON(&frame); err != nil {
			cancelConn()
			<-writeDone
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		c.deliver(frame)
	}
}

// deliver hands a frame to the consumer, dropping when nobody drains the
// stream fast enough. Presence chatter is droppable; the inbox file is
// the durability boundary for messages.
func (c *Client) deliver(frame ServerFrame) {
	select {
	case c.frames <- frame:
	default:
		slog.Debug("relay frame dropped", "type", frame.Type)
	}
}

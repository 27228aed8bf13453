package cli

import (
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Dicklesworthstone/dcmsg/internal/config"
	"github.com/Dicklesworthstone/dcmsg/internal/inbox"
	"github.com/Dicklesworthstone/dcmsg/internal/relay"
	"github.com/Dicklesworthstone/dcmsg/internal/robot"
)

// deliver is the one-shot send path shared by `send` and `reply`: append
// to the local inbox first (the durability boundary), then attempt live
// delivery when a relay is configured. A missing secret degrades to
// inbox-only mode, never to an error.
func deliver(cfg *config.Config, store *inbox.Store, rec *inbox.Record) (robot.SendOutput, error) {
	if rec.To == "claude" {
		// Local mirror of the relay's self-agent shortcut.
		rec.To = rec.From + relay.AgentSuffix
	}
	if rec.ReplyTo != "" && rec.Thread == "" {
		rec.Thread = inbox.NewThreadResolver(store).Resolve(rec.ReplyTo)
	}

	id, err := store.Append(rec)
	if err != nil {
		return robot.SendOutput{Response: robot.ErrorResponse(err)}, err
	}
	out := robot.SendOutput{
		Response: robot.NewResponse(true),
		To:       rec.To,
		MsgID:    id,
		Thread:   rec.Thread,
	}
	if cfg.Relay.Secret == "" {
		return out, nil
	}

	ack, err := relaySendOnce(cfg, &relay.SendFrame{
		To:       rec.To,
		Text:     rec.Text,
		Priority: string(rec.Priority),
		MsgID:    id,
		Thread:   rec.Thread,
		ReplyTo:  rec.ReplyTo,
	})
	if err != nil {
		// The local append already succeeded; report the relay outcome
		// without failing the command.
		out.Queued = true
		return out, nil
	}
	out.Delivered = ack.Delivered
	out.AutoReplied = ack.AutoReplied
	return out, nil
}

// relaySendOnce dials the relay, authenticates, submits one send, and
// waits for its ack.
func relaySendOnce(cfg *config.Config, frame *relay.SendFrame) (*relay.ServerFrame, error) {
	frame.Type = relay.TypeSend

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(cfg.Relay.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	defer conn.Close()
	deadline := time.Now().Add(10 * time.Second)
	conn.SetReadDeadline(deadline)
	conn.SetWriteDeadline(deadline)

	if err := conn.WriteJSON(relay.AuthFrame{
		Type:            relay.TypeAuth,
		Secret:          cfg.Relay.Secret,
		Username:        cfg.User,
		ClaudeWhitelist: cfg.Relay.ClaudeWhitelist,
	}); err != nil {
		return nil, fmt.Errorf("auth write: %w", err)
	}
	var reply relay.ServerFrame
	if err := conn.ReadJSON(&reply); err != nil {
		return nil, fmt.Errorf("auth read: %w", err)
	}
	if reply.Type != relay.TypeAuthOK {
		return nil, fmt.Errorf("relay auth failed: %s", reply.Message)
	}

	if err := conn.WriteJSON(frame); err != nil {
		return nil, fmt.Errorf("send write: %w", err)
	}
	for {
		var ack relay.ServerFrame
		if err := conn.ReadJSON(&ack); err != nil {
			return nil, fmt.Errorf("ack read: %w", err)
		}
		if ack.Type == relay.TypeSendAck {
			return &ack, nil
		}
		// Presence chatter may arrive first; skip it.
	}
}

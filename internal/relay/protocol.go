// Package relay implements the live message fan-out: a WebSocket server
// that authenticates clients with a shared secret, tracks presence, and
// routes direct messages between online handles, plus the client used to
// dial it. The relay holds no persistent state; the inbox files are the
// system of record.
package relay

import (
	"encoding/json"
	"fmt"
)

// Frame type constants, client to server.
const (
	TypeAuth         = "auth"
	TypeSend         = "send"
	TypePresenceReq  = "presence"
	TypeStatusChange = "status_change"
	TypePing         = "ping"
)

// Frame type constants, server to client.
const (
	TypeAuthOK         = "auth_ok"
	TypeAuthError      = "auth_error"
	TypeMessage        = "message"
	TypeSendAck        = "send_ack"
	TypePresenceChange = "presence_change"
	TypePresence       = "presence"
	TypeStatusOK       = "status_ok"
	TypePong           = "pong"
	TypeError          = "error"
)

// Presence statuses a session may advertise.
var ValidStatuses = map[string]bool{
	"online":   true,
	"busy":     true,
	"away":     true,
	"focusing": true,
}

// envelope carries just enough to dispatch on the frame type.
type envelope struct {
	Type string `json:"type"`
}

// AuthFrame authenticates a connection.
type AuthFrame struct {
	Type            string   `json:"type"`
	Secret          string   `json:"secret"`
	Username        string   `json:"username"`
	Status          string   `json:"status,omitempty"`
	ClaudeWhitelist []string `json:"claude_whitelist,omitempty"`
}

// SendFrame submits a message for routing.
type SendFrame struct {
	Type     string `json:"type"`
	To       string `json:"to"`
	Text     string `json:"text"`
	Priority string `json:"priority,omitempty"`
	MsgID    string `json:"msg_id,omitempty"`
	Thread   string `json:"thread,omitempty"`
	ReplyTo  string `json:"reply_to,omitempty"`
}

// StatusChangeFrame updates the sender's presence status.
type StatusChangeFrame struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

// DecodeFrame parses one inbound client frame into its typed form.
// Frames with an unknown type decode to (nil, unknownType, nil) so the
// session can answer with an error frame instead of closing.
func DecodeFrame(data []byte) (any, string, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, "", fmt.Errorf("relay: bad frame: %w", err)
	}
	switch env.Type {
	case TypeAuth:
		var f AuthFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, env.Type, fmt.Errorf("relay: bad auth frame: %w", err)
		}
		return &f, env.Type, nil
	case TypeSend:
		var f SendFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, env.Type, fmt.Errorf("relay: bad send frame: %w", err)
		}
		return &f, env.Type, nil
	case TypeStatusChange:
		var f StatusChangeFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, env.Type, fmt.Errorf("relay: bad status_change frame: %w", err)
		}
		return &f, env.Type, nil
	case TypePresenceReq, TypePing:
		return &envelope{Type: env.Type}, env.Type, nil
	}
	return nil, env.Type, nil
}

// AuthOKFrame confirms authentication and carries the roster.
type AuthOKFrame struct {
	Type     string            `json:"type"`
	Username string            `json:"username"`
	Online   []string          `json:"online"`
	Statuses map[string]string `json:"statuses"`
}

// AuthErrorFrame rejects authentication. The connection stays open; the
// client is expected to disconnect.
type AuthErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// MessageFrame delivers a message to a recipient, or an auto-reply back
// to a refused sender.
type MessageFrame struct {
	Type      string `json:"type"`
	From      string `json:"from"`
	Text      string `json:"text"`
	Priority  string `json:"priority"`
	MsgID     string `json:"msg_id,omitempty"`
	Timestamp string `json:"timestamp"`
	Thread    string `json:"thread,omitempty"`
	ReplyTo   string `json:"reply_to,omitempty"`
	AutoReply bool   `json:"auto_reply,omitempty"`
}

// SendAckFrame reports the outcome of a send to its submitter.
type SendAckFrame struct {
	Type        string `json:"type"`
	To          string `json:"to"`
	Delivered   bool   `json:"delivered"`
	AutoReplied bool   `json:"auto_replied,omitempty"`
	Queued      bool   `json:"queued,omitempty"`
}

// PresenceChangeFrame announces a roster delta to every other session.
type PresenceChangeFrame struct {
	Type     string            `json:"type"`
	User     string            `json:"user"`
	Status   string            `json:"status"`
	Online   []string          `json:"online"`
	Statuses map[string]string `json:"statuses"`
}

// PresenceFrame answers an explicit presence query.
type PresenceFrame struct {
	Type     string            `json:"type"`
	Online   []string          `json:"online"`
	Statuses map[string]string `json:"statuses"`
}

// StatusOKFrame confirms a status_change.
type StatusOKFrame struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

// ErrorFrame reports a recoverable protocol error. The session survives.
type ErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// PongFrame answers a ping.
type PongFrame struct {
	Type string `json:"type"`
}

// ServerFrame is the client-side view of any server frame: the union of
// the fields the server may send, dispatched on Type. Mirrors the wire
// exactly so the client never drops a field it might need.
type ServerFrame struct {
	Type        string            `json:"type"`
	Message     string            `json:"message,omitempty"`
	Username    string            `json:"username,omitempty"`
	From        string            `json:"from,omitempty"`
	Text        string            `json:"text,omitempty"`
	Priority    string            `json:"priority,omitempty"`
	MsgID       string            `json:"msg_id,omitempty"`
	Timestamp   string            `json:"timestamp,omitempty"`
	Thread      string            `json:"thread,omitempty"`
	ReplyTo     string            `json:"reply_to,omitempty"`
	AutoReply   bool              `json:"auto_reply,omitempty"`
	To          string            `json:"to,omitempty"`
	Delivered   bool              `json:"delivered,omitempty"`
	AutoReplied bool              `json:"auto_replied,omitempty"`
	Queued      bool              `json:"queued,omitempty"`
	User        string            `json:"user,omitempty"`
	Status      string            `json:"status,omitempty"`
	Online      []string          `json:"online,omitempty"`
	Statuses    map[string]string `json:"statuses,omitempty"`
}

package relay

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

const testSecret = "relay-test-secret"

func newTestRelay(t *testing.T, heartbeat time.Duration) (*Server, string) {
	t.Helper()
	s := NewServer(Config{Secret: testSecret, Heartbeat: heartbeat})
	ts := httptest.NewServer(s.httpServer.Handler)
	t.Cleanup(ts.Close)
	return s, "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func writeFrame(t *testing.T, conn *websocket.Conn, frame any) {
	t.Helper()
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) ServerFrame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var frame ServerFrame
	if err := conn.ReadJSON(&frame); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	return frame
}

// readUntil skips frames of other types (presence chatter arrives
// interleaved with replies) until one of the wanted type shows up.
func readUntil(t *testing.T, conn *websocket.Conn, frameType string) ServerFrame {
	t.Helper()
	for i := 0; i < 10; i++ {
		frame := readFrame(t, conn)
		if frame.Type == frameType {
			return frame
		}
	}
	t.Fatalf("no %s frame within 10 reads", frameType)
	return ServerFrame{}
}

func authAs(t *testing.T, url, user string, opts ...func(*AuthFrame)) *websocket.Conn {
	t.Helper()
	conn := dialWS(t, url)
	auth := AuthFrame{Type: TypeAuth, Secret: testSecret, Username: user}
	for _, opt := range opts {
		opt(&auth)
	}
	writeFrame(t, conn, auth)
	frame := readFrame(t, conn)
	if frame.Type != TypeAuthOK {
		t.Fatalf("auth reply = %+v, want auth_ok", frame)
	}
	return conn
}

func TestAuthOK(t *testing.T) {
	_, url := newTestRelay(t, time.Second)
	conn := authAs(t, url, "alice", func(a *AuthFrame) { a.Status = "busy" })

	writeFrame(t, conn, envelope{Type: TypePresenceReq})
	frame := readUntil(t, conn, TypePresence)
	if len(frame.Online) != 1 || frame.Online[0] != "alice" {
		t.Errorf("online = %v, want [alice]", frame.Online)
	}
	if frame.Statuses["alice"] != "busy" {
		t.Errorf("status = %q, want busy", frame.Statuses["alice"])
	}
}

func TestAuthBadSecret(t *testing.T) {
	_, url := newTestRelay(t, time.Second)
	conn := dialWS(t, url)
	writeFrame(t, conn, AuthFrame{Type: TypeAuth, Secret: "wrong", Username: "alice"})
	frame := readFrame(t, conn)
	if frame.Type != TypeAuthError {
		t.Fatalf("reply = %+v, want auth_error", frame)
	}

	// The session stays in pre-auth: a live-phase frame is refused but
	// the socket stays open for another auth attempt.
	writeFrame(t, conn, envelope{Type: TypePresenceReq})
	if frame := readFrame(t, conn); frame.Type != TypeError {
		t.Errorf("pre-auth presence reply = %+v, want error", frame)
	}
	writeFrame(t, conn, AuthFrame{Type: TypeAuth, Secret: testSecret, Username: "alice"})
	if frame := readFrame(t, conn); frame.Type != TypeAuthOK {
		t.Errorf("second auth reply = %+v, want auth_ok", frame)
	}
}

func TestReauthOnLiveSessionRefused(t *testing.T) {
	s, url := newTestRelay(t, time.Second)
	alice := authAs(t, url, "alice")

	// A second auth under a different handle must not fork the roster.
	writeFrame(t, alice, AuthFrame{Type: TypeAuth, Secret: testSecret, Username: "bob"})
	if frame := readUntil(t, alice, TypeError); !strings.Contains(frame.Message, "already authenticated") {
		t.Errorf("re-auth reply = %+v, want already-authenticated error", frame)
	}
	online, _ := s.roster()
	if len(online) != 1 || online[0] != "alice" {
		t.Errorf("roster = %v, want [alice]", online)
	}

	// Re-auth under the same handle must not evict the session from
	// under itself; the socket stays live and keeps routing.
	writeFrame(t, alice, AuthFrame{Type: TypeAuth, Secret: testSecret, Username: "alice"})
	if frame := readUntil(t, alice, TypeError); !strings.Contains(frame.Message, "already authenticated") {
		t.Errorf("re-auth reply = %+v, want already-authenticated error", frame)
	}

	bob := authAs(t, url, "bob")
	writeFrame(t, bob, SendFrame{Type: TypeSend, To: "alice", Text: "still routed?"})
	if ack := readUntil(t, bob, TypeSendAck); !ack.Delivered {
		t.Errorf("ack = %+v, want delivered to the original session", ack)
	}
	if msg := readUntil(t, alice, TypeMessage); msg.Text != "still routed?" {
		t.Errorf("message = %+v", msg)
	}
}

func TestSendDelivered(t *testing.T) {
	_, url := newTestRelay(t, time.Second)
	alice := authAs(t, url, "alice")
	bob := authAs(t, url, "bob")

	writeFrame(t, alice, SendFrame{Type: TypeSend, To: "bob", Text: "hi", MsgID: "msg-1"})

	ack := readUntil(t, alice, TypeSendAck)
	if !ack.Delivered || ack.To != "bob" {
		t.Errorf("ack = %+v, want delivered to bob", ack)
	}
	msg := readUntil(t, bob, TypeMessage)
	if msg.From != "alice" || msg.Text != "hi" || msg.MsgID != "msg-1" {
		t.Errorf("message = %+v", msg)
	}
	if msg.Priority != "normal" {
		t.Errorf("priority = %q, want normal default", msg.Priority)
	}
	if msg.Timestamp == "" {
		t.Error("message missing timestamp")
	}
}

func TestSendOffline(t *testing.T) {
	_, url := newTestRelay(t, time.Second)
	alice := authAs(t, url, "alice")

	writeFrame(t, alice, SendFrame{Type: TypeSend, To: "bob", Text: "anyone home"})
	ack := readUntil(t, alice, TypeSendAck)
	if ack.Delivered || ack.AutoReplied {
		t.Errorf("ack = %+v, want plain not-delivered", ack)
	}
}

func TestSendInvalidRecipient(t *testing.T) {
	_, url := newTestRelay(t, time.Second)
	alice := authAs(t, url, "alice")

	writeFrame(t, alice, SendFrame{Type: TypeSend, To: "../../etc/passwd", Text: "hi"})
	if frame := readUntil(t, alice, TypeError); !strings.Contains(frame.Message, "invalid recipient") {
		t.Errorf("reply = %+v, want invalid-recipient error", frame)
	}

	// The bad address never closes the socket.
	writeFrame(t, alice, envelope{Type: TypePing})
	readUntil(t, alice, TypePong)
}

func TestSendClaudeShortcutOffline(t *testing.T) {
	_, url := newTestRelay(t, time.Second)
	alice := authAs(t, url, "alice")

	writeFrame(t, alice, SendFrame{Type: TypeSend, To: "claude", Text: "do X"})
	ack := readUntil(t, alice, TypeSendAck)
	if ack.Delivered {
		t.Error("alice-claude is offline, must not be delivered")
	}
}

func TestWhitelistRefusalAutoReply(t *testing.T) {
	_, url := newTestRelay(t, time.Second)
	bob := authAs(t, url, "bob", func(a *AuthFrame) { a.ClaudeWhitelist = []string{"alice"} })
	bobClaude := authAs(t, url, "bob-claude")
	mallory := authAs(t, url, "mallory")

	writeFrame(t, mallory, SendFrame{Type: TypeSend, To: "bob-claude", Text: "hey"})

	// Exactly one synthetic message back to the sender.
	msg := readUntil(t, mallory, TypeMessage)
	if msg.From != "bob-claude" || !msg.AutoReply {
		t.Errorf("auto-reply = %+v", msg)
	}
	if !strings.Contains(msg.Text, "not accepting messages from @mallory") {
		t.Errorf("auto-reply text = %q", msg.Text)
	}
	ack := readUntil(t, mallory, TypeSendAck)
	if ack.Delivered || !ack.AutoReplied {
		t.Errorf("ack = %+v, want auto_replied and not delivered", ack)
	}

	// The agent must receive nothing. A whitelisted sender goes through.
	writeFrame(t, bob, SendFrame{Type: TypeSend, To: "bob-claude", Text: "from owner"})
	msg = readUntil(t, bobClaude, TypeMessage)
	if msg.From != "bob" || msg.Text != "from owner" {
		t.Errorf("agent got %+v, want the owner's message only", msg)
	}
}

func TestStatusChange(t *testing.T) {
	_, url := newTestRelay(t, time.Second)
	alice := authAs(t, url, "alice")
	bob := authAs(t, url, "bob")

	writeFrame(t, alice, StatusChangeFrame{Type: TypeStatusChange, Status: "focusing"})
	ok := readUntil(t, alice, TypeStatusOK)
	if ok.Status != "focusing" {
		t.Errorf("status_ok = %+v", ok)
	}

	change := readUntil(t, bob, TypePresenceChange)
	for change.User != "alice" {
		change = readUntil(t, bob, TypePresenceChange)
	}
	if change.Status != "focusing" || change.Statuses["alice"] != "focusing" {
		t.Errorf("presence_change = %+v", change)
	}

	writeFrame(t, alice, StatusChangeFrame{Type: TypeStatusChange, Status: "sleeping"})
	if frame := readUntil(t, alice, TypeError); !strings.Contains(frame.Message, "invalid status") {
		t.Errorf("error = %+v", frame)
	}
}

func TestBadJSONKeepsConnection(t *testing.T) {
	_, url := newTestRelay(t, time.Second)
	alice := authAs(t, url, "alice")

	if err := alice.WriteMessage(websocket.TextMessage, []byte("{nope")); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	if frame := readFrame(t, alice); frame.Type != TypeError {
		t.Errorf("reply = %+v, want error", frame)
	}

	writeFrame(t, alice, envelope{Type: TypePing})
	if frame := readUntil(t, alice, TypePong); frame.Type != TypePong {
		t.Error("connection did not survive the bad frame")
	}
}

func TestUnknownTypeKeepsConnection(t *testing.T) {
	_, url := newTestRelay(t, time.Second)
	alice := authAs(t, url, "alice")

	writeFrame(t, alice, map[string]string{"type": "teleport"})
	frame := readFrame(t, alice)
	if frame.Type != TypeError || !strings.Contains(frame.Message, "teleport") {
		t.Errorf("reply = %+v", frame)
	}
}

func TestOneConnectionPerUser(t *testing.T) {
	s, url := newTestRelay(t, time.Second)
	first := authAs(t, url, "alice")
	second := authAs(t, url, "alice")

	// The old socket is closed; the new one routes.
	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		var frame ServerFrame
		if err := first.ReadJSON(&frame); err != nil {
			break
		}
	}

	bob := authAs(t, url, "bob")
	writeFrame(t, bob, SendFrame{Type: TypeSend, To: "alice", Text: "still there?"})
	if ack := readUntil(t, bob, TypeSendAck); !ack.Delivered {
		t.Errorf("ack = %+v, want delivered to the new session", ack)
	}
	if msg := readUntil(t, second, TypeMessage); msg.Text != "still there?" {
		t.Errorf("message = %+v", msg)
	}

	online, _ := s.roster()
	if len(online) != 2 {
		t.Errorf("roster = %v, want exactly one alice plus bob", online)
	}
}

func TestPresenceBroadcastOnJoinAndLeave(t *testing.T) {
	_, url := newTestRelay(t, time.Second)
	alice := authAs(t, url, "alice")
	bob := authAs(t, url, "bob")

	join := readUntil(t, alice, TypePresenceChange)
	if join.User != "bob" || join.Status != "online" {
		t.Errorf("join broadcast = %+v", join)
	}

	bob.Close()
	left := readUntil(t, alice, TypePresenceChange)
	for left.User != "bob" {
		left = readUntil(t, alice, TypePresenceChange)
	}
	if left.Status != "offline" {
		t.Errorf("leave broadcast = %+v", left)
	}
}

func TestHeartbeatEvictsDeadPeer(t *testing.T) {
	heartbeat := 50 * time.Millisecond
	s, url := newTestRelay(t, heartbeat)
	authAs(t, url, "alice")
	// The test never reads after auth, so it never answers the server's
	// pings. Two missed heartbeats plus one more period must evict it.
	deadline := time.Now().Add(20 * heartbeat)
	for time.Now().Before(deadline) {
		if online, _ := s.roster(); len(online) == 0 {
			return
		}
		time.Sleep(heartbeat / 2)
	}
	online, _ := s.roster()
	t.Errorf("roster = %v, want empty after missed heartbeats", online)
}

func TestStatusEndpoint(t *testing.T) {
	s := NewServer(Config{Secret: testSecret, Heartbeat: time.Second})
	ts := httptest.NewServer(s.httpServer.Handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	authAs(t, url, "alice")
	authAs(t, url, "bob")

	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatalf("GET /status: %v", err)
	}
	defer resp.Body.Close()
	var body struct {
		Status      string   `json:"status"`
		UsersOnline int      `json:"users_online"`
		Users       []string `json:"users"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.UsersOnline != 2 {
		t.Errorf("status = %+v", body)
	}
	if len(body.Users) != 2 || body.Users[0] != "alice" || body.Users[1] != "bob" {
		t.Errorf("users = %v, want sorted [alice bob]", body.Users)
	}
}

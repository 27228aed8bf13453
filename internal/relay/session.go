package relay

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// sendBuffer is the per-session outbound queue. A session whose buffer
// stays full loses frames rather than blocking the router.
const sendBuffer = 64

// session is one authenticated connection. The socket is written only by
// writePump, fed through the send channel, so concurrent routes to the
// same recipient interleave at frame boundaries.
type session struct {
	id     string // connection id, for log correlation
	conn   *websocket.Conn
	server *Server
	send   chan []byte

	closeOnce sync.Once
	done      chan struct{}

	// Set once during auth, immutable afterwards.
	username  string
	joinedAt  time.Time
	whitelist []string

	mu     sync.Mutex
	status string
}

func newSession(conn *websocket.Conn, server *Server) *session {
	return &session{
		id:     uuid.NewString(),
		conn:   conn,
		server: server,
		send:   make(chan []byte, sendBuffer),
		done:   make(chan struct{}),
		status: "online",
	}
}

func (s *session) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *session) setStatus(status string) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

// sendFrame marshals and enqueues one frame. Returns false when the
// session is closing or its buffer is full; the caller treats that as a
// delivery failure, never as a fatal condition.
func (s *session) sendFrame(frame any) bool {
	data, err := json.Marshal(frame)
	if err != nil {
		log.Printf("relay: marshal frame conn=%s: %v", s.id, err)
		return false
	}
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- data:
		return true
	default:
		log.Printf("relay: send buffer full conn=%s user=%s", s.id, s.username)
		return false
	}
}

// close tears the session down exactly once. Safe from any goroutine.
func (s *session) close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// writePump owns all writes to the socket, including the heartbeat
// pings. It exits when the session closes or a write fails.
func (s *session) writePump(heartbeat time.Duration) {
	ticker := time.NewTicker(heartbeat)
	defer func() {
		ticker.Stop()
		s.close()
	}()

	for {
		select {
		case <-s.done:
			return
		case data := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

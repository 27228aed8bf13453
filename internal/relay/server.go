package relay

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/Dicklesworthstone/dcmsg/internal/util"
)

const (
	writeWait        = 10 * time.Second
	maxFrameSize     = 64 * 1024
	DefaultHeartbeat = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The relay is dialed by native clients, not browsers.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Config holds relay server configuration.
type Config struct {
	Addr      string
	Secret    string
	Heartbeat time.Duration
}

// Server is one relay instance. It is a plain constructed value so tests
// and host mode can run several in the same process.
type Server struct {
	cfg Config

	mu       sync.RWMutex
	sessions map[string]*session // by authenticated handle

	httpServer *http.Server
	listenerMu sync.Mutex
	listener   net.Listener
}

func NewServer(cfg Config) *Server {
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = DefaultHeartbeat
	}
	s := &Server{
		cfg:      cfg,
		sessions: make(map[string]*session),
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get("/status", s.handleStatus)
	r.Get("/ws", s.handleWS)
	s.httpServer = &http.Server{Handler: r}
	return s
}

// Run binds the listen address and serves until ctx is cancelled. A bind
// failure is returned immediately; it is the one fatal relay error.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("relay: bind %s: %w", s.cfg.Addr, err)
	}
	s.listenerMu.Lock()
	s.listener = ln
	s.listenerMu.Unlock()
	slog.Info("relay listening", "addr", ln.Addr().String(), "heartbeat", s.cfg.Heartbeat)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("relay: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutCtx)
		s.closeAll()
		return nil
	})
	return g.Wait()
}

// Addr returns the bound listen address, usable once Run has started.
// Empty until the listener is up.
func (s *Server) Addr() string {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) closeAll() {
	s.mu.Lock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.sessions = make(map[string]*session)
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.close()
	}
}

// handleStatus serves the HTTP health view of the roster.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	online, _ := s.roster()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":       "ok",
		"users_online": len(online),
		"users":        online,
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("relay: upgrade failed: %v", err)
		return
	}
	sess := newSession(conn, s)
	go sess.writePump(s.cfg.Heartbeat)
	go s.readPump(sess)
}

// readPump drives one session from pre-auth through live to closing.
// Every exit path runs the offline epilogue.
func (s *Server) readPump(sess *session) {
	defer func() {
		sess.close()
		s.unregister(sess)
	}()

	// A peer that misses two consecutive heartbeats is dead.
	pongWait := 2 * s.cfg.Heartbeat
	sess.conn.SetReadLimit(maxFrameSize)
	sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	sess.conn.SetPongHandler(func(string) error {
		sess.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("relay: read error conn=%s user=%s: %v", sess.id, sess.username, err)
			}
			return
		}
		s.handleFrame(sess, data)
	}
}

// handleFrame dispatches one inbound frame. A bad frame never closes the
// socket; the session answers with an error frame and carries on.
func (s *Server) handleFrame(sess *session, data []byte) {
	frame, frameType, err := DecodeFrame(data)
	if err != nil {
		sess.sendFrame(&ErrorFrame{Type: TypeError, Message: "invalid frame"})
		return
	}
	if frame == nil {
		sess.sendFrame(&ErrorFrame{Type: TypeError, Message: "unknown frame type: " + frameType})
		return
	}

	if sess.username == "" && frameType != TypeAuth {
		sess.sendFrame(&ErrorFrame{Type: TypeError, Message: "not authenticated"})
		return
	}

	switch f := frame.(type) {
	case *AuthFrame:
		s.handleAuth(sess, f)
	case *SendFrame:
		if ack := s.route(sess, f); ack != nil {
			sess.sendFrame(ack)
		}
	case *StatusChangeFrame:
		s.handleStatusChange(sess, f)
	case *envelope:
		switch f.Type {
		case TypePresenceReq:
			online, statuses := s.roster()
			sess.sendFrame(&PresenceFrame{Type: TypePresence, Online: online, Statuses: statuses})
		case TypePing:
			sess.sendFrame(&PongFrame{Type: TypePong})
		}
	}
}

func (s *Server) handleAuth(sess *session, f *AuthFrame) {
	// The username is set once. A second auth on a live session would
	// either fork the roster (new handle, same socket) or evict the
	// session out from under itself (same handle); both stay refused
	// with a recoverable error.
	if sess.username != "" {
		sess.sendFrame(&ErrorFrame{Type: TypeError, Message: "already authenticated as " + sess.username})
		return
	}
	if subtle.ConstantTimeCompare([]byte(f.Secret), []byte(s.cfg.Secret)) != 1 {
		slog.Warn("relay auth rejected", "conn", sess.id, "reason", "bad secret")
		sess.sendFrame(&AuthErrorFrame{Type: TypeAuthError, Message: "invalid secret"})
		return
	}
	if !util.ValidHandle(f.Username) {
		sess.sendFrame(&AuthErrorFrame{Type: TypeAuthError, Message: "invalid username"})
		return
	}
	sess.username = f.Username
	sess.joinedAt = time.Now()
	sess.whitelist = append([]string(nil), f.ClaudeWhitelist...)
	if ValidStatuses[f.Status] {
		sess.setStatus(f.Status)
	}

	// Register before the auth_ok reply so the router never sees a gap
	// between the evicted predecessor and the new session.
	s.mu.Lock()
	old := s.sessions[sess.username]
	s.sessions[sess.username] = sess
	s.mu.Unlock()
	if old != nil {
		slog.Info("relay evicting stale session", "user", sess.username, "conn", old.id)
		go old.close()
	}

	online, statuses := s.roster()
	sess.sendFrame(&AuthOKFrame{
		Type:     TypeAuthOK,
		Username: sess.username,
		Online:   online,
		Statuses: statuses,
	})
	slog.Info("relay user joined", "user", sess.username, "conn", sess.id)
	s.broadcastPresence(sess.username, sess.Status())
}

func (s *Server) handleStatusChange(sess *session, f *StatusChangeFrame) {
	if !ValidStatuses[f.Status] {
		sess.sendFrame(&ErrorFrame{Type: TypeError, Message: "invalid status: " + f.Status})
		return
	}
	sess.setStatus(f.Status)
	sess.sendFrame(&StatusOKFrame{Type: TypeStatusOK, Status: f.Status})
	s.broadcastPresence(sess.username, f.Status)
}

// unregister removes the session from the roster and broadcasts offline,
// unless a newer session for the same handle has already replaced it.
func (s *Server) unregister(sess *session) {
	if sess.username == "" {
		return
	}
	s.mu.Lock()
	current, ok := s.sessions[sess.username]
	if ok && current == sess {
		delete(s.sessions, sess.username)
	} else {
		ok = false
	}
	s.mu.Unlock()
	if ok {
		slog.Info("relay user left", "user", sess.username, "conn", sess.id)
		s.broadcastPresence(sess.username, "offline")
	}
}

// roster snapshots the online list and status map under the read lock so
// callers can enumerate without holding it.
func (s *Server) roster() ([]string, map[string]string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	online := make([]string, 0, len(s.sessions))
	statuses := make(map[string]string, len(s.sessions))
	for user, sess := range s.sessions {
		online = append(online, user)
		statuses[user] = sess.Status()
	}
	sort.Strings(online)
	return online, statuses
}

// whitelistOf is the WhitelistFunc backing agent resolution.
func (s *Server) whitelistOf(owner string) ([]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[owner]
	if !ok {
		return nil, false
	}
	return sess.whitelist, true
}

func (s *Server) lookup(user string) *session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions[user]
}

// route delivers one send to at most one recipient socket and builds the
// ack for the sender. Best effort: no retry, no server-side queue. A
// malformed recipient gets an error frame instead of an ack; the nil
// return tells the caller the reply was already sent.
func (s *Server) route(sender *session, f *SendFrame) *SendAckFrame {
	if !util.ValidHandle(f.To) {
		sender.sendFrame(&ErrorFrame{Type: TypeError, Message: "invalid recipient: " + f.To})
		return nil
	}
	ack := &SendAckFrame{Type: TypeSendAck, To: f.To}

	res := ResolveAgent(sender.username, f.To, s.whitelistOf)
	if !res.Allowed {
		sender.sendFrame(&MessageFrame{
			Type:      TypeMessage,
			From:      res.Target,
			Text:      res.AutoReply,
			Priority:  "normal",
			Timestamp: wireTime(time.Now()),
			AutoReply: true,
		})
		ack.AutoReplied = true
		return ack
	}

	target := s.lookup(res.Target)
	if target == nil {
		return ack
	}
	priority := f.Priority
	if priority == "" {
		priority = "normal"
	}
	ack.Delivered = target.sendFrame(&MessageFrame{
		Type:      TypeMessage,
		From:      sender.username,
		Text:      f.Text,
		Priority:  priority,
		MsgID:     f.MsgID,
		Timestamp: wireTime(time.Now()),
		Thread:    f.Thread,
		ReplyTo:   f.ReplyTo,
	})
	return ack
}

// broadcastPresence fans a roster delta out to every session except the
// subject's own. Individual send failures are swallowed.
func (s *Server) broadcastPresence(user, status string) {
	online, statuses := s.roster()
	frame := &PresenceChangeFrame{
		Type:     TypePresenceChange,
		User:     user,
		Status:   status,
		Online:   online,
		Statuses: statuses,
	}
	s.mu.RLock()
	peers := make([]*session, 0, len(s.sessions))
	for peer, sess := range s.sessions {
		if peer != user {
			peers = append(peers, sess)
		}
	}
	s.mu.RUnlock()
	for _, sess := range peers {
		sess.sendFrame(frame)
	}
}

// wireTime is the human-readable timestamp carried on message frames.
func wireTime(t time.Time) string {
	return t.Format("2006-01-02 15:04")
}

package engineio

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrSlowClient    = errors.New("slow client")
)

// Config holds Engine.IO server configuration
type Config struct {
	PingInterval time.Duration
	PingTimeout  time.Duration
	MaxPayload   int // bytes

	// CheckOrigin decides whether an upgrade from the request origin is
	// accepted. Nil accepts every origin.
	CheckOrigin func(r *http.Request) bool

	Logger *zap.Logger
}

// DefaultConfig returns default Engine.IO configuration
func DefaultConfig() *Config {
	return &Config{
		PingInterval: 25 * time.Second,
		PingTimeout:  20 * time.Second,
		MaxPayload:   1e6,
	}
}

func (c *Config) withDefaults() *Config {
	out := DefaultConfig()
	if c == nil {
		out.Logger = zap.NewNop()
		return out
	}
	if c.PingInterval > 0 {
		out.PingInterval = c.PingInterval
	}
	if c.PingTimeout > 0 {
		out.PingTimeout = c.PingTimeout
	}
	if c.MaxPayload > 0 {
		out.MaxPayload = c.MaxPayload
	}
	out.CheckOrigin = c.CheckOrigin
	out.Logger = c.Logger
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	return out
}

// Server accepts Engine.IO connections over WebSocket.
type Server struct {
	config    *Config
	upgrader  websocket.Upgrader
	sessions  sync.Map
	onConnect func(*Session)
}

// NewServer creates a new Engine.IO server
func NewServer(config *Config) *Server {
	config = config.withDefaults()

	checkOrigin := config.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	return &Server{
		config: config,
		upgrader: websocket.Upgrader{
			CheckOrigin:     checkOrigin,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// ServeHTTP upgrades the request to a WebSocket session.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if eio := q.Get("EIO"); eio != "" && eio != strconv.Itoa(Protocol) {
		http.Error(w, "Unsupported protocol version", http.StatusBadRequest)
		return
	}
	if q.Get("transport") != "websocket" {
		http.Error(w, "Only WebSocket transport is supported", http.StatusBadRequest)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.config.Logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	h := Handshake{
		SID:          GenerateID(),
		PingInterval: int(s.config.PingInterval / time.Millisecond),
		PingTimeout:  int(s.config.PingTimeout / time.Millisecond),
		MaxPayload:   s.config.MaxPayload,
	}

	open, err := EncodeHandshake(h)
	if err != nil {
		conn.Close()
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, open); err != nil {
		conn.Close()
		return
	}

	session := newSession(h.SID, conn, roleServer, h, s.config.Logger)
	session.req = r
	s.sessions.Store(h.SID, session)

	// the connect handler installs its own close handler; keep the
	// registry in sync through Done instead of OnClose
	go func() {
		<-session.Done()
		s.sessions.Delete(h.SID)
	}()

	if s.onConnect != nil {
		s.onConnect(session)
	}
	session.Start()
}

// OnConnect sets the connection handler. It runs before the session
// starts reading, so handlers it installs see every message.
func (s *Server) OnConnect(fn func(*Session)) {
	s.onConnect = fn
}

// GetSession retrieves a session by ID
func (s *Server) GetSession(sid string) (*Session, bool) {
	val, ok := s.sessions.Load(sid)
	if !ok {
		return nil, false
	}
	return val.(*Session), true
}

// Count returns the number of open sessions.
func (s *Server) Count() int {
	n := 0
	s.sessions.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Close closes all sessions
func (s *Server) Close() {
	s.sessions.Range(func(_, value any) bool {
		value.(*Session).Close("server shutdown")
		return true
	})
}

// GenerateID returns a random URL-safe identifier.
func GenerateID() string {
	b := make([]byte, 15)
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}

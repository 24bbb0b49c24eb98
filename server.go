package gosocketio

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/spawndev/gosocketio/engineio"
	"go.uber.org/zap"
)

// DefaultPath is where the Socket.IO endpoint is served.
const DefaultPath = "/socket.io/"

// Server represents a Socket.IO server
type Server struct {
	eio        *engineio.Server
	namespaces map[string]*Namespace
	nsMu       sync.RWMutex

	path       string
	ackTimeout time.Duration
	logger     *zap.Logger
	metrics    *Metrics
}

// Config represents Socket.IO server configuration
type Config struct {
	PingInterval time.Duration
	PingTimeout  time.Duration
	MaxPayload   int

	// Path the endpoint is served under (default "/socket.io/").
	Path string

	// AckTimeout applies to Socket.EmitWithAck when set.
	AckTimeout time.Duration

	// CheckOrigin filters upgrade requests. Nil accepts all origins.
	CheckOrigin func(r *http.Request) bool

	Logger  *zap.Logger
	Metrics *Metrics
}

// NewServer creates a new Socket.IO server
func NewServer(config *Config) *Server {
	if config == nil {
		config = &Config{}
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	path := config.Path
	if path == "" {
		path = DefaultPath
	}
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}

	server := &Server{
		eio: engineio.NewServer(&engineio.Config{
			PingInterval: config.PingInterval,
			PingTimeout:  config.PingTimeout,
			MaxPayload:   config.MaxPayload,
			CheckOrigin:  config.CheckOrigin,
			Logger:       logger,
		}),
		namespaces: make(map[string]*Namespace),
		path:       path,
		ackTimeout: config.AckTimeout,
		logger:     logger,
		metrics:    config.Metrics,
	}

	// Create default namespace
	server.Of(defaultNamespace)

	server.eio.OnConnect(server.handleConnection)

	return server
}

// Of returns a namespace, creating it if it doesn't exist
func (s *Server) Of(name string) *Namespace {
	if name == "" {
		name = defaultNamespace
	}

	s.nsMu.RLock()
	ns, exists := s.namespaces[name]
	s.nsMu.RUnlock()

	if exists {
		return ns
	}

	s.nsMu.Lock()
	defer s.nsMu.Unlock()

	// Double-check after acquiring write lock
	if ns, exists := s.namespaces[name]; exists {
		return ns
	}

	ns = NewNamespace(name, s)
	s.namespaces[name] = ns

	return ns
}

// lookup returns an existing namespace without creating one.
func (s *Server) lookup(name string) (*Namespace, bool) {
	s.nsMu.RLock()
	defer s.nsMu.RUnlock()

	ns, ok := s.namespaces[name]
	return ns, ok
}

// OnConnection registers a connection handler for the default namespace
func (s *Server) OnConnection(handler func(*Socket)) {
	s.Of(defaultNamespace).OnConnection(handler)
}

// Emit broadcasts to all clients in the default namespace
func (s *Server) Emit(event string, args ...any) error {
	return s.Of(defaultNamespace).Emit(event, args...)
}

// To returns a BroadcastOperator for the default namespace
func (s *Server) To(rooms ...string) *BroadcastOperator {
	return s.Of(defaultNamespace).To(rooms...)
}

// EmitToSession sends to one socket of the default namespace.
func (s *Server) EmitToSession(id, event string, args ...any) error {
	return s.Of(defaultNamespace).EmitToSession(id, event, args...)
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.URL.Path, s.path) && r.URL.Path+"/" != s.path {
		http.NotFound(w, r)
		return
	}

	s.eio.ServeHTTP(w, r)
}

// Close closes the server and all connections
func (s *Server) Close() error {
	s.eio.Close()

	s.nsMu.RLock()
	defer s.nsMu.RUnlock()

	for _, ns := range s.namespaces {
		ns.roomAdapter().Close()
	}

	return nil
}

func (s *Server) handleConnection(session *engineio.Session) {
	newConn(s, session)
}

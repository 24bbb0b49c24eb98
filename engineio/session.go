package engineio

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	outgoingQueueSize = 256
	closeWriteTimeout = time.Second

	// ReasonTransportClose is reported when the remote end went away.
	ReasonTransportClose = "transport close"
	// ReasonPingTimeout is reported when the heartbeat expired.
	ReasonPingTimeout = "ping timeout"
	// ReasonSlowClient is reported when the outgoing queue overflowed.
	ReasonSlowClient = "slow client"
)

type role int

const (
	roleServer role = iota
	roleClient
)

// Session is one Engine.IO connection. The accepting side drives the
// heartbeat with pings; the dialing side answers them and drops the
// connection when the server goes quiet.
type Session struct {
	id           string
	conn         *websocket.Conn
	role         role
	req          *http.Request
	pingInterval time.Duration
	pingTimeout  time.Duration
	maxPayload   int64
	logger       *zap.Logger

	outgoing   chan *Packet
	sendMu     sync.Mutex
	overflowed bool
	closeOnce  sync.Once
	closed    chan struct{}
	started   atomic.Bool

	mu        sync.RWMutex
	onMessage func([]byte)
	onClose   func(string)
	onPing    func()
	heartbeat *time.Timer
	awaiting  bool
	reason    string
}

func newSession(id string, conn *websocket.Conn, r role, h Handshake, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		id:           id,
		conn:         conn,
		role:         r,
		pingInterval: h.Interval(),
		pingTimeout:  h.Timeout(),
		maxPayload:   int64(h.MaxPayload),
		logger:       logger.With(zap.String("sid", id)),
		outgoing:     make(chan *Packet, outgoingQueueSize),
		closed:       make(chan struct{}),
	}
}

// ID returns the session ID
func (s *Session) ID() string {
	return s.id
}

// Request returns the upgrade request for accepted sessions, nil for dialed ones.
func (s *Session) Request() *http.Request {
	return s.req
}

// Done is closed once the session has been closed.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// Start runs the read and write loops and arms the heartbeat. Handlers
// must be set before calling Start.
func (s *Session) Start() {
	s.started.Store(true)
	if s.maxPayload > 0 {
		// leave room for the type byte and namespace prefix
		s.conn.SetReadLimit(s.maxPayload + 64)
	}

	go s.writeLoop()
	go s.readLoop()

	if s.role == roleServer {
		s.schedulePing()
	} else {
		s.resetDeadline()
	}
}

// Send queues a packet for the write loop without blocking. A full
// queue drops the packet and closes the session with ReasonSlowClient;
// every later Send fails.
func (s *Session) Send(packet *Packet) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.overflowed {
		return ErrSlowClient
	}
	select {
	case <-s.closed:
		return ErrSessionClosed
	default:
	}

	select {
	case s.outgoing <- packet:
		return nil
	case <-s.closed:
		return ErrSessionClosed
	default:
		s.overflowed = true
		// the close handler may take locks the caller holds
		go s.Close(ReasonSlowClient)
		return ErrSlowClient
	}
}

// SendMessage queues a message packet carrying data.
func (s *Session) SendMessage(data []byte) error {
	return s.Send(&Packet{Type: PacketTypeMessage, Data: data})
}

// Close closes the session. The close handler runs once, with the first reason.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.reason = reason
		if s.heartbeat != nil {
			s.heartbeat.Stop()
		}
		close(s.closed)
		handler := s.onClose
		s.mu.Unlock()

		if !s.started.Load() {
			s.conn.Close()
		} else {
			// unblocks a write stuck on a peer that stopped reading
			_ = s.conn.NetConn().SetWriteDeadline(time.Now().Add(closeWriteTimeout))
		}

		s.logger.Debug("engine.io session closed", zap.String("reason", reason))
		if handler != nil {
			handler(reason)
		}
	})
}

// OnMessage sets the message handler. It is called from the read loop,
// one message at a time and in arrival order.
func (s *Session) OnMessage(fn func([]byte)) {
	s.mu.Lock()
	s.onMessage = fn
	s.mu.Unlock()
}

// OnPing sets a handler called from the read loop for each ping
// received by a dialed session, after the pong is queued.
func (s *Session) OnPing(fn func()) {
	s.mu.Lock()
	s.onPing = fn
	s.mu.Unlock()
}

// OnClose sets the close handler
func (s *Session) OnClose(fn func(string)) {
	s.mu.Lock()
	s.onClose = fn
	s.mu.Unlock()
}

func (s *Session) readLoop() {
	defer s.Close(ReasonTransportClose)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("engine.io read failed", zap.Error(err))
			}
			return
		}

		packet, err := DecodePacket(data)
		if err != nil {
			s.logger.Debug("dropping malformed engine.io packet", zap.Error(err))
			continue
		}

		if !s.handlePacket(packet) {
			return
		}
	}
}

func (s *Session) writeLoop() {
	defer s.conn.Close()

	for {
		select {
		case packet := <-s.outgoing:
			if err := s.conn.WriteMessage(websocket.TextMessage, packet.Encode()); err != nil {
				s.Close("transport error")
				return
			}
		case <-s.closed:
			s.mu.RLock()
			reason := s.reason
			s.mu.RUnlock()
			if reason != ReasonTransportClose && reason != ReasonSlowClient {
				_ = s.conn.SetWriteDeadline(time.Now().Add(closeWriteTimeout))
				s.flush()
				bye := &Packet{Type: PacketTypeClose}
				_ = s.conn.WriteMessage(websocket.TextMessage, bye.Encode())
			}
			return
		}
	}
}

// flush writes what was queued before the session closed.
func (s *Session) flush() {
	for {
		select {
		case packet := <-s.outgoing:
			if err := s.conn.WriteMessage(websocket.TextMessage, packet.Encode()); err != nil {
				return
			}
		default:
			return
		}
	}
}

// handlePacket reports whether the read loop should continue.
func (s *Session) handlePacket(packet *Packet) bool {
	switch packet.Type {
	case PacketTypePing:
		if s.role == roleClient {
			s.resetDeadline()
			_ = s.Send(&Packet{Type: PacketTypePong, Data: packet.Data})

			s.mu.RLock()
			handler := s.onPing
			s.mu.RUnlock()
			if handler != nil {
				handler()
			}
		}
	case PacketTypePong:
		if s.role == roleServer {
			s.handlePong()
		}
	case PacketTypeMessage:
		s.mu.RLock()
		handler := s.onMessage
		s.mu.RUnlock()
		if handler != nil {
			handler(packet.Data)
		}
	case PacketTypeClose:
		s.Close(ReasonTransportClose)
		return false
	}
	return true
}

func (s *Session) handlePong() {
	s.mu.Lock()
	awaiting := s.awaiting
	s.awaiting = false
	s.mu.Unlock()

	if awaiting {
		s.schedulePing()
	}
}

func (s *Session) schedulePing() {
	s.arm(s.pingInterval, func() {
		s.mu.Lock()
		s.awaiting = true
		s.mu.Unlock()

		// armed before sending so an early pong cannot be overwritten
		s.arm(s.pingTimeout, func() { s.Close(ReasonPingTimeout) })
		_ = s.Send(&Packet{Type: PacketTypePing})
	})
}

// resetDeadline restarts the client side watchdog: a ping must arrive
// within pingInterval+pingTimeout.
func (s *Session) resetDeadline() {
	s.arm(s.pingInterval+s.pingTimeout, func() { s.Close(ReasonPingTimeout) })
}

func (s *Session) arm(d time.Duration, fn func()) {
	if d <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case <-s.closed:
		return
	default:
	}

	if s.heartbeat != nil {
		s.heartbeat.Stop()
	}
	s.heartbeat = time.AfterFunc(d, fn)
}

package gosocketio

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spawndev/gosocketio/engineio"
	"go.uber.org/zap"
)

// Handshake holds what the client presented when joining the namespace.
type Handshake struct {
	// Auth is the payload of the connect packet, if any.
	Auth    json.RawMessage
	Query   url.Values
	Header  http.Header
	Address string
	Issued  time.Time
}

func newHandshake(session *engineio.Session, auth json.RawMessage) Handshake {
	h := Handshake{Auth: auth, Issued: time.Now()}
	if r := session.Request(); r != nil {
		h.Query = r.URL.Query()
		h.Header = r.Header.Clone()
		h.Address = r.RemoteAddr
	}
	return h
}

// Socket is the server side of one client session on a namespace.
type Socket struct {
	id        string
	conn      *conn
	namespace *Namespace
	handshake Handshake
	logger    *zap.Logger

	events    registry
	inbox     *mailbox
	acks      ackTable
	connected atomic.Bool
	closeOnce sync.Once

	rooms   map[string]bool
	roomsMu sync.RWMutex
	data    sync.Map
}

func newSocket(id string, c *conn, ns *Namespace, h Handshake) *Socket {
	s := &Socket{
		id:        id,
		conn:      c,
		namespace: ns,
		handshake: h,
		logger:    ns.logger.With(zap.String("sid", id)),
		inbox:     newMailbox(),
		rooms:     make(map[string]bool),
	}
	s.connected.Store(true)
	return s
}

// ID returns the socket ID
func (s *Socket) ID() string {
	return s.id
}

// Namespace returns the namespace name the socket belongs to.
func (s *Socket) Namespace() string {
	return s.namespace.name
}

// Handshake returns the connection details.
func (s *Socket) Handshake() Handshake {
	return s.handshake
}

// Connected reports whether the socket is still attached.
func (s *Socket) Connected() bool {
	return s.connected.Load()
}

// On registers an event handler. Handlers for the same event are kept
// and run in registration order.
func (s *Socket) On(event string, handler EventHandler) Listener {
	return s.events.on(event, handler)
}

// Off removes one handler.
func (s *Socket) Off(l Listener) bool {
	return s.events.off(l)
}

// OffAll removes every handler for event.
func (s *Socket) OffAll(event string) {
	s.events.offAll(event)
}

// Emit sends an event to the client
func (s *Socket) Emit(event string, args ...any) error {
	packet, err := newEventPacket(s.namespace.name, event, args, nil)
	if err != nil {
		return err
	}
	if err := s.send(packet); err != nil {
		return err
	}
	s.namespace.server.metrics.eventSent(event)
	return nil
}

// EmitWithAck sends an event and waits for the client's reply, for at
// most the server's AckTimeout when one is configured.
func (s *Socket) EmitWithAck(ctx context.Context, event string, args ...any) (Args, error) {
	return s.emitWithAck(ctx, s.namespace.server.ackTimeout, event, args)
}

// Timeout sets the acknowledgement timeout of the next emit.
func (s *Socket) Timeout(d time.Duration) TimeoutEmitter {
	return TimeoutEmitter{target: s, timeout: d}
}

func (s *Socket) emitWithAck(ctx context.Context, timeout time.Duration, event string, args []any) (Args, error) {
	reply, err := s.acks.await(ctx, timeout, func(id int) error {
		packet, err := newEventPacket(s.namespace.name, event, args, &id)
		if err != nil {
			return err
		}
		return s.send(packet)
	})
	s.namespace.server.metrics.ack(ackOutcome(err))
	return reply, err
}

// Join adds the socket to a room
func (s *Socket) Join(room string) {
	s.roomsMu.Lock()
	s.rooms[room] = true
	s.roomsMu.Unlock()

	s.namespace.roomAdapter().Add(s.id, room)
}

// Leave removes the socket from a room
func (s *Socket) Leave(room string) {
	s.roomsMu.Lock()
	delete(s.rooms, room)
	s.roomsMu.Unlock()

	s.namespace.roomAdapter().Remove(s.id, room)
}

// Rooms returns all rooms the socket is in
func (s *Socket) Rooms() []string {
	s.roomsMu.RLock()
	defer s.roomsMu.RUnlock()

	rooms := make([]string, 0, len(s.rooms))
	for room := range s.rooms {
		rooms = append(rooms, room)
	}
	return rooms
}

// Set stores arbitrary data on the socket
func (s *Socket) Set(key string, value any) {
	s.data.Store(key, value)
}

// Get retrieves data from the socket
func (s *Socket) Get(key string) (any, bool) {
	return s.data.Load(key)
}

// Disconnect detaches the socket from its namespace. The transport is
// closed once no other namespace uses it.
func (s *Socket) Disconnect() {
	s.close("server namespace disconnect", true)
	s.conn.closeIfIdle("server namespace disconnect")
}

func (s *Socket) send(packet *Packet) error {
	if !s.connected.Load() {
		return ErrDisconnected
	}
	return s.conn.send(packet)
}

// deliver writes an already encoded packet, for broadcasts.
func (s *Socket) deliver(encoded []byte) error {
	if !s.connected.Load() {
		return ErrDisconnected
	}
	return s.conn.session.SendMessage(encoded)
}

func (s *Socket) start(handlers []func(*Socket)) {
	s.inbox.push(func() {
		for _, h := range handlers {
			s.runConnectionHandler(h)
		}
	})
}

func (s *Socket) runConnectionHandler(h func(*Socket)) {
	defer func() {
		if v := recover(); v != nil {
			s.fault(&HandlerError{Event: "connection", Value: v})
		}
	}()
	h(s)
}

func (s *Socket) handleEvent(packet *Packet) {
	name, args, err := packet.event()
	if err != nil {
		s.logger.Debug("dropping event", zap.Error(err))
		return
	}

	ev := &Event{Name: name, Args: args}
	if packet.ID != nil {
		id := *packet.ID
		ev.reply = newReply(func(reply []any) error {
			ack, err := newAckPacket(s.namespace.name, id, reply)
			if err != nil {
				return err
			}
			s.namespace.server.metrics.ack("sent")
			return s.send(ack)
		})
	}

	s.inbox.push(func() {
		s.namespace.server.metrics.eventReceived(name, s.events.handles(name))
		s.events.dispatch(ev, s.fault)
	})
}

func (s *Socket) handleAck(packet *Packet) {
	if packet.ID == nil {
		return
	}
	args, err := packet.ackArgs()
	if err != nil {
		s.logger.Debug("dropping ack", zap.Error(err))
		return
	}
	if !s.acks.resolve(*packet.ID, args) {
		s.logger.Debug("dropping ack", zap.Int("id", *packet.ID), zap.Error(ErrUnknownAck))
	}
}

func (s *Socket) fault(err *HandlerError) {
	s.logger.Error("event handler panicked", zap.String("event", err.Event), zap.Any("panic", err.Value))
	s.namespace.server.metrics.handlerFault(err.Event)
}

// close runs once: it fails pending acks, leaves the namespace and queues
// the disconnect event behind any frames still waiting for dispatch.
func (s *Socket) close(reason string, notify bool) {
	s.closeOnce.Do(func() {
		if notify {
			_ = s.conn.send(&Packet{Type: PacketTypeDisconnect, Namespace: s.namespace.name})
		}
		s.connected.Store(false)

		s.acks.failAll(ErrDisconnected)
		s.namespace.removeSocket(s.id)
		s.conn.detach(s.namespace.name)

		s.roomsMu.Lock()
		s.rooms = make(map[string]bool)
		s.roomsMu.Unlock()

		s.namespace.server.metrics.socketDisconnected()
		s.logger.Debug("socket disconnected", zap.String("reason", reason))

		ev := localEvent(EventDisconnect, nil, reason)
		s.inbox.push(func() { s.events.dispatch(ev, s.fault) })
		s.inbox.close()
	})
}

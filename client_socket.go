package gosocketio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const reasonServerDisconnect = "io server disconnect"

// ClientSocket is the client side of one namespace, multiplexed over the
// connection of its Manager. Emits made while it is not connected are
// buffered and flushed, in order, once the namespace connect succeeds.
type ClientSocket struct {
	manager *Manager
	nsp     string
	logger  *zap.Logger

	mu          sync.Mutex
	state       State
	id          string
	active      bool
	connectSent bool
	auth        any
	sendBuffer  []*Packet

	events registry
	inbox  *mailbox
	acks   ackTable
}

func newClientSocket(m *Manager, nsp string) *ClientSocket {
	return &ClientSocket{
		manager: m,
		nsp:     nsp,
		logger:  m.logger.With(zap.String("nsp", nsp)),
		auth:    m.opts.Auth,
		inbox:   newMailbox(),
	}
}

// ID returns the id the server assigned, or "" while not connected.
func (s *ClientSocket) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Namespace returns the namespace name.
func (s *ClientSocket) Namespace() string { return s.nsp }

// Manager returns the Manager the socket belongs to.
func (s *ClientSocket) Manager() *Manager { return s.manager }

// State returns the current connection state.
func (s *ClientSocket) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connected reports whether the namespace connect has been accepted.
func (s *ClientSocket) Connected() bool { return s.State() == StateConnected }

// Disconnected reports whether the socket is neither connected nor connecting.
func (s *ClientSocket) Disconnected() bool { return s.State() == StateDisconnected }

// Active reports whether the socket wants to be connected, that is whether
// it reconnects along with its Manager.
func (s *ClientSocket) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// SetAuth replaces the payload sent with the next namespace connect.
func (s *ClientSocket) SetAuth(auth any) {
	s.mu.Lock()
	s.auth = auth
	s.mu.Unlock()
}

// Auth returns the connect payload.
func (s *ClientSocket) Auth() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auth
}

// On registers an event handler. Lifecycle events such as "connect" and
// "reconnect" arrive through the same handlers.
func (s *ClientSocket) On(event string, handler EventHandler) Listener {
	return s.events.on(event, handler)
}

// Off removes one handler.
func (s *ClientSocket) Off(l Listener) bool {
	return s.events.off(l)
}

// OffAll removes every handler for event.
func (s *ClientSocket) OffAll(event string) {
	s.events.offAll(event)
}

// Connect joins the namespace, opening the Manager connection if needed.
// It returns at once; watch the "connect" and "error" events.
func (s *ClientSocket) Connect() {
	s.mu.Lock()
	if s.active && s.state != StateDisconnected {
		s.mu.Unlock()
		return
	}
	s.active = true
	s.state = StateConnecting
	s.mu.Unlock()

	if s.manager.Connected() {
		s.sendConnect()
		return
	}
	go func() {
		if err := s.manager.Open(context.Background()); errors.Is(err, ErrManagerClosed) {
			s.handleDisconnect(reasonClientDisconnect, true)
			s.emitLocal(localEvent(EventError, err))
		}
	}()
}

// Disconnect leaves the namespace. The Manager connection is closed once
// no socket uses it.
func (s *ClientSocket) Disconnect() {
	if s.Connected() {
		_ = s.manager.send(&Packet{Type: PacketTypeDisconnect, Namespace: s.nsp})
	}
	s.handleDisconnect(reasonClientDisconnect, true)

	s.mu.Lock()
	s.sendBuffer = nil
	s.mu.Unlock()

	s.manager.release()
}

// Emit sends an event, or buffers it until the socket is connected.
func (s *ClientSocket) Emit(event string, args ...any) error {
	packet, err := newEventPacket(s.nsp, event, args, nil)
	if err != nil {
		return err
	}
	if err := s.sendOrBuffer(packet); err != nil {
		return err
	}
	s.manager.metrics.eventSent(event)
	return nil
}

// EmitWithAck sends an event and waits for the server's reply, for at
// most Options.AckTimeout when one is set. A timed out request is sent
// again up to Options.Retries times.
func (s *ClientSocket) EmitWithAck(ctx context.Context, event string, args ...any) (Args, error) {
	return s.emitWithAck(ctx, s.manager.opts.AckTimeout, event, args)
}

// Timeout sets the acknowledgement timeout of the next emit.
func (s *ClientSocket) Timeout(d time.Duration) TimeoutEmitter {
	return TimeoutEmitter{target: s, timeout: d}
}

func (s *ClientSocket) emitWithAck(ctx context.Context, timeout time.Duration, event string, args []any) (Args, error) {
	attempts := 1 + s.manager.opts.Retries
	for i := 1; ; i++ {
		reply, err := s.acks.await(ctx, timeout, func(id int) error {
			packet, err := newEventPacket(s.nsp, event, args, &id)
			if err != nil {
				return err
			}
			return s.sendOrBuffer(packet)
		})
		if errors.Is(err, ErrAckTimeout) && i < attempts {
			s.logger.Debug("ack timed out, retrying", zap.String("event", event), zap.Int("attempt", i))
			continue
		}
		s.manager.metrics.eventSent(event)
		s.manager.metrics.ack(ackOutcome(err))
		return reply, err
	}
}

// sendOrBuffer holds the lock across the send so buffered packets are
// never overtaken by new ones.
func (s *ClientSocket) sendOrBuffer(packet *Packet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateConnected {
		err := s.manager.send(packet)
		if !errors.Is(err, ErrDisconnected) {
			return err
		}
	}
	s.sendBuffer = append(s.sendBuffer, packet)
	return nil
}

// flushLocked sends buffered packets. Acknowledged emits whose waiter has
// already given up are dropped.
func (s *ClientSocket) flushLocked() {
	buffer := s.sendBuffer
	s.sendBuffer = nil
	for i, packet := range buffer {
		if packet.ID != nil && packet.Type == PacketTypeEvent && !s.acks.has(*packet.ID) {
			continue
		}
		if err := s.manager.send(packet); err != nil {
			s.sendBuffer = append(s.sendBuffer, buffer[i:]...)
			return
		}
	}
}

func (s *ClientSocket) sendConnect() {
	s.mu.Lock()
	if s.connectSent {
		s.mu.Unlock()
		return
	}
	s.connectSent = true
	auth := s.auth
	s.mu.Unlock()

	packet := &Packet{Type: PacketTypeConnect, Namespace: s.nsp}
	if auth != nil {
		data, err := json.Marshal(auth)
		if err != nil {
			s.mu.Lock()
			s.connectSent = false
			s.mu.Unlock()
			s.emitLocal(localEvent(EventError, fmt.Errorf("encode auth: %w", err)))
			return
		}
		packet.Data = data
	}

	if err := s.manager.send(packet); err != nil {
		s.mu.Lock()
		s.connectSent = false
		s.mu.Unlock()
		s.logger.Debug("connect not sent", zap.Error(err))
	}
}

// handleOpen runs when the Manager connection is up.
func (s *ClientSocket) handleOpen() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.state = StateConnecting
	s.mu.Unlock()

	s.sendConnect()
}

// handleClose runs when the Manager connection is lost.
func (s *ClientSocket) handleClose(reason string) {
	s.handleDisconnect(reason, false)
}

func (s *ClientSocket) handlePacket(packet *Packet) {
	switch packet.Type {
	case PacketTypeConnect:
		s.handleConnect(packet)
	case PacketTypeConnectError:
		s.handleConnectError(packet)
	case PacketTypeEvent:
		s.handleEvent(packet)
	case PacketTypeAck:
		s.handleAck(packet)
	case PacketTypeDisconnect:
		s.logger.Debug("server disconnect")
		s.handleDisconnect(reasonServerDisconnect, true)
		s.manager.release()
	}
}

func (s *ClientSocket) handleConnect(packet *Packet) {
	var body struct {
		SID string `json:"sid"`
	}
	if err := json.Unmarshal(packet.Data, &body); err != nil || body.SID == "" {
		s.logger.Debug("dropping connect without sid")
		return
	}

	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.id = body.SID
	s.state = StateConnected
	s.connectSent = false
	s.flushLocked()
	s.mu.Unlock()

	s.logger.Debug("namespace connected", zap.String("sid", body.SID))
	s.emitLocal(localEvent(EventConnect, nil))
}

func (s *ClientSocket) handleConnectError(packet *Packet) {
	var body struct {
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	_ = json.Unmarshal(packet.Data, &body)

	cause := errors.New(body.Message)
	if body.Message == "Invalid namespace" {
		cause = ErrInvalidNamespace
	}
	err := &ConnectionError{URL: s.manager.uri + s.nsp, Err: cause}

	s.mu.Lock()
	s.state = StateDisconnected
	s.active = false
	s.connectSent = false
	s.mu.Unlock()

	s.acks.failAll(ErrDisconnected)
	s.logger.Warn("namespace connect refused", zap.Error(err))
	s.emitLocal(localEvent(EventError, err))
}

func (s *ClientSocket) handleEvent(packet *Packet) {
	name, args, err := packet.event()
	if err != nil {
		s.logger.Debug("dropping event", zap.Error(err))
		return
	}

	ev := &Event{Name: name, Args: args}
	if packet.ID != nil {
		id := *packet.ID
		ev.reply = newReply(func(reply []any) error {
			ack, err := newAckPacket(s.nsp, id, reply)
			if err != nil {
				return err
			}
			s.manager.metrics.ack("sent")
			return s.manager.send(ack)
		})
	}

	s.inbox.push(func() {
		s.manager.metrics.eventReceived(name, s.events.handles(name))
		s.events.dispatch(ev, s.fault)
	})
}

func (s *ClientSocket) handleAck(packet *Packet) {
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

// handleDisconnect fails pending acks and raises "disconnect" if the
// socket was connected. With deactivate the socket stops reconnecting.
func (s *ClientSocket) handleDisconnect(reason string, deactivate bool) {
	s.mu.Lock()
	was := s.state
	s.state = StateDisconnected
	s.id = ""
	s.connectSent = false
	if deactivate {
		s.active = false
	}
	s.mu.Unlock()

	s.acks.failAll(ErrDisconnected)
	if was == StateConnected {
		s.logger.Debug("namespace disconnected", zap.String("reason", reason))
		s.emitLocal(localEvent(EventDisconnect, nil, reason))
	}
}

// shutdown runs when the Manager closes for good.
func (s *ClientSocket) shutdown() {
	s.handleDisconnect(reasonClientDisconnect, true)

	s.mu.Lock()
	s.sendBuffer = nil
	s.mu.Unlock()

	s.inbox.close()
}

func (s *ClientSocket) emitLocal(ev *Event) {
	s.inbox.push(func() { s.events.dispatch(ev, s.fault) })
}

func (s *ClientSocket) fault(err *HandlerError) {
	s.logger.Error("event handler panicked", zap.String("event", err.Event), zap.Any("panic", err.Value))
	s.manager.metrics.handlerFault(err.Event)
}

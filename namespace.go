package gosocketio

import (
	"encoding/json"
	"errors"
	"slices"
	"sync"

	"go.uber.org/zap"
)

// Namespace represents a Socket.IO namespace
type Namespace struct {
	name     string
	server   *Server
	adapter  Adapter
	sockets  map[string]*Socket
	mu       sync.RWMutex
	handlers []func(*Socket)
	logger   *zap.Logger
}

// NewNamespace creates a new namespace
func NewNamespace(name string, server *Server) *Namespace {
	ns := &Namespace{
		name:    name,
		server:  server,
		sockets: make(map[string]*Socket),
		logger:  server.logger.With(zap.String("nsp", name)),
	}

	ns.adapter = NewMemoryAdapter(ns)

	return ns
}

// Name returns the namespace name
func (ns *Namespace) Name() string {
	return ns.name
}

// OnConnection adds a connection handler. Handlers run in order on the new
// socket's dispatch goroutine before any of its events, so events sent
// right after connecting wait for the handlers to register.
func (ns *Namespace) OnConnection(handler func(*Socket)) {
	ns.mu.Lock()
	ns.handlers = append(ns.handlers, handler)
	ns.mu.Unlock()
}

// To returns a BroadcastOperator for emitting to specific rooms
func (ns *Namespace) To(rooms ...string) *BroadcastOperator {
	return &BroadcastOperator{
		namespace: ns,
		rooms:     rooms,
	}
}

// Except returns a BroadcastOperator skipping the given sockets.
func (ns *Namespace) Except(socketIDs ...string) *BroadcastOperator {
	return ns.To().Except(socketIDs...)
}

// Emit broadcasts an event to all sockets in the namespace
func (ns *Namespace) Emit(event string, args ...any) error {
	return ns.To().Emit(event, args...)
}

// EmitToSession sends an event to a single socket. A socket that is
// already gone is logged and skipped: a disconnect may race any send.
func (ns *Namespace) EmitToSession(id, event string, args ...any) error {
	socket, ok := ns.GetSocket(id)
	if !ok {
		ns.logger.Debug("emit to unknown session", zap.String("sid", id), zap.String("event", event))
		return nil
	}

	err := socket.Emit(event, args...)
	if errors.Is(err, ErrDisconnected) {
		ns.logger.Debug("emit to disconnected session", zap.String("sid", id), zap.String("event", event))
		return nil
	}
	return err
}

// Sockets returns all connected sockets
func (ns *Namespace) Sockets() []*Socket {
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	sockets := make([]*Socket, 0, len(ns.sockets))
	for _, socket := range ns.sockets {
		sockets = append(sockets, socket)
	}
	return sockets
}

// Len returns the number of connected sockets.
func (ns *Namespace) Len() int {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return len(ns.sockets)
}

// GetSocket retrieves a socket by ID
func (ns *Namespace) GetSocket(id string) (*Socket, bool) {
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	socket, ok := ns.sockets[id]
	return socket, ok
}

// SetAdapter sets a custom adapter
func (ns *Namespace) SetAdapter(adapter Adapter) {
	ns.mu.Lock()
	ns.adapter = adapter
	ns.mu.Unlock()
}

func (ns *Namespace) roomAdapter() Adapter {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	return ns.adapter
}

// collect returns the connected sockets among ids.
func (ns *Namespace) collect(ids []string) []*Socket {
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	out := make([]*Socket, 0, len(ids))
	for _, id := range ids {
		if socket, ok := ns.sockets[id]; ok {
			out = append(out, socket)
		}
	}
	return out
}

func (ns *Namespace) socketIDs() []string {
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	ids := make([]string, 0, len(ns.sockets))
	for id := range ns.sockets {
		ids = append(ids, id)
	}
	return ids
}

func (ns *Namespace) addSocket(socket *Socket) {
	data, _ := json.Marshal(map[string]string{"sid": socket.ID()})
	connect := &Packet{
		Type:      PacketTypeConnect,
		Namespace: ns.name,
		Data:      data,
	}

	// the connect reply goes out before the socket can be reached by a
	// broadcast, so the client never sees events ahead of its id
	ns.server.metrics.socketConnected()
	if err := socket.send(connect); err != nil {
		socket.close("transport error", false)
		return
	}

	ns.mu.Lock()
	ns.sockets[socket.ID()] = socket
	handlers := slices.Clone(ns.handlers)
	ns.mu.Unlock()

	// Auto-join own room
	socket.Join(socket.ID())

	if !socket.Connected() {
		// transport dropped while joining
		ns.removeSocket(socket.ID())
		return
	}

	ns.logger.Debug("socket connected", zap.String("sid", socket.ID()))
	socket.start(handlers)
}

func (ns *Namespace) removeSocket(id string) {
	ns.mu.Lock()
	delete(ns.sockets, id)
	ns.mu.Unlock()

	ns.roomAdapter().RemoveAll(id)
}

// BroadcastOperator provides methods for broadcasting to specific rooms
type BroadcastOperator struct {
	namespace *Namespace
	rooms     []string
	except    []string
	filter    func(*Socket) bool
}

// To adds rooms to broadcast to
func (b *BroadcastOperator) To(rooms ...string) *BroadcastOperator {
	b.rooms = append(b.rooms, rooms...)
	return b
}

// Except excludes specific socket IDs from the broadcast
func (b *BroadcastOperator) Except(socketIDs ...string) *BroadcastOperator {
	b.except = append(b.except, socketIDs...)
	return b
}

// Filter keeps only sockets for which keep returns true.
func (b *BroadcastOperator) Filter(keep func(*Socket) bool) *BroadcastOperator {
	prev := b.filter
	b.filter = func(s *Socket) bool {
		return (prev == nil || prev(s)) && keep(s)
	}
	return b
}

// Emit broadcasts an event. Each recipient is written independently; one
// that fails is logged and skipped.
func (b *BroadcastOperator) Emit(event string, args ...any) error {
	packet, err := newEventPacket(b.namespace.name, event, args, nil)
	if err != nil {
		return err
	}

	b.namespace.server.metrics.broadcast()
	b.namespace.roomAdapter().Broadcast(packet, BroadcastOptions{
		Rooms:  b.rooms,
		Except: b.except,
		Filter: b.filter,
	})
	return nil
}

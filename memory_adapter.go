package gosocketio

import (
	"sync"

	"go.uber.org/zap"
)

// MemoryAdapter is an in-memory implementation of the Adapter interface
type MemoryAdapter struct {
	rooms       map[string]map[string]bool // room -> socketIDs
	socketRooms map[string]map[string]bool // socketID -> rooms
	mu          sync.RWMutex
	namespace   *Namespace
}

// NewMemoryAdapter creates a new in-memory adapter
func NewMemoryAdapter(namespace *Namespace) *MemoryAdapter {
	return &MemoryAdapter{
		rooms:       make(map[string]map[string]bool),
		socketRooms: make(map[string]map[string]bool),
		namespace:   namespace,
	}
}

// Add adds a socket to a room
func (a *MemoryAdapter) Add(socketID, room string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.rooms[room] == nil {
		a.rooms[room] = make(map[string]bool)
	}
	a.rooms[room][socketID] = true

	if a.socketRooms[socketID] == nil {
		a.socketRooms[socketID] = make(map[string]bool)
	}
	a.socketRooms[socketID][room] = true
}

// Remove removes a socket from a room
func (a *MemoryAdapter) Remove(socketID, room string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.unlink(socketID, room)
	if len(a.socketRooms[socketID]) == 0 {
		delete(a.socketRooms, socketID)
	}
}

// RemoveAll removes a socket from all rooms
func (a *MemoryAdapter) RemoveAll(socketID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for room := range a.socketRooms[socketID] {
		a.unlink(socketID, room)
	}
	delete(a.socketRooms, socketID)
}

func (a *MemoryAdapter) unlink(socketID, room string) {
	if members := a.rooms[room]; members != nil {
		delete(members, socketID)
		if len(members) == 0 {
			delete(a.rooms, room)
		}
	}
	if rooms := a.socketRooms[socketID]; rooms != nil {
		delete(rooms, room)
	}
}

// Sockets returns all socket IDs in a room
func (a *MemoryAdapter) Sockets(room string) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	sockets := a.rooms[room]
	result := make([]string, 0, len(sockets))
	for socketID := range sockets {
		result = append(result, socketID)
	}
	return result
}

// SocketRooms returns all rooms a socket is in
func (a *MemoryAdapter) SocketRooms(socketID string) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	rooms := a.socketRooms[socketID]
	result := make([]string, 0, len(rooms))
	for room := range rooms {
		result = append(result, room)
	}
	return result
}

// Broadcast writes the packet to every selected socket. Recipients are
// collected first and written without holding any lock, so a slow or
// closing socket cannot hold up the rest.
func (a *MemoryAdapter) Broadcast(packet *Packet, opts BroadcastOptions) int {
	excluded := make(map[string]bool, len(opts.Except))
	for _, sid := range opts.Except {
		excluded[sid] = true
	}

	var candidates []string
	if len(opts.Rooms) == 0 {
		candidates = a.namespace.socketIDs()
	} else {
		seen := make(map[string]bool)
		a.mu.RLock()
		for _, room := range opts.Rooms {
			for socketID := range a.rooms[room] {
				if !seen[socketID] {
					seen[socketID] = true
					candidates = append(candidates, socketID)
				}
			}
		}
		a.mu.RUnlock()
	}

	targets := candidates[:0]
	for _, sid := range candidates {
		if !excluded[sid] {
			targets = append(targets, sid)
		}
	}

	encoded := []byte(packet.Encode())
	delivered := 0
	for _, socket := range a.namespace.collect(targets) {
		if opts.Filter != nil && !opts.Filter(socket) {
			continue
		}
		if err := socket.deliver(encoded); err != nil {
			a.namespace.logger.Debug("broadcast skipped socket",
				zap.String("sid", socket.ID()), zap.Error(err))
			continue
		}
		delivered++
	}

	return delivered
}

// Close cleans up the adapter
func (a *MemoryAdapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.rooms = make(map[string]map[string]bool)
	a.socketRooms = make(map[string]map[string]bool)

	return nil
}

package gosocketio

// BroadcastOptions selects the recipients of a broadcast.
type BroadcastOptions struct {
	// Rooms limits delivery to members of any of the rooms. Empty means
	// every socket in the namespace.
	Rooms []string
	// Except lists socket IDs that are skipped.
	Except []string
	// Filter, when set, must return true for a socket to receive the packet.
	Filter func(*Socket) bool
}

// Adapter is the interface for managing rooms and broadcasting
type Adapter interface {
	// Add adds a socket to a room
	Add(socketID, room string)

	// Remove removes a socket from a room
	Remove(socketID, room string)

	// RemoveAll removes a socket from all rooms
	RemoveAll(socketID string)

	// Sockets returns all socket IDs in a room
	Sockets(room string) []string

	// SocketRooms returns all rooms a socket is in
	SocketRooms(socketID string) []string

	// Broadcast sends a packet to the selected sockets and returns how
	// many accepted it
	Broadcast(packet *Packet, opts BroadcastOptions) int

	// Close cleans up the adapter
	Close() error
}

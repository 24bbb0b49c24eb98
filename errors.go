package gosocketio

import (
	"errors"
	"fmt"
)

var (
	// ErrAckTimeout is returned when no acknowledgement arrived in time.
	ErrAckTimeout = errors.New("gosocketio: acknowledgement timeout")

	// ErrDisconnected is returned for acknowledgements still pending when
	// the session went away, and for sends on a closed session.
	ErrDisconnected = errors.New("gosocketio: disconnected")

	// ErrUnknownAck marks a reply whose id matches no pending request.
	// Such replies are dropped.
	ErrUnknownAck = errors.New("gosocketio: unknown acknowledgement id")

	// ErrInvalidNamespace is reported when the server has no such namespace.
	ErrInvalidNamespace = errors.New("gosocketio: invalid namespace")

	// ErrUnsupportedPacket is returned for binary packets, which are not implemented.
	ErrUnsupportedPacket = errors.New("gosocketio: unsupported packet type")

	// ErrManagerClosed is returned when a closed Manager is asked to connect.
	ErrManagerClosed = errors.New("gosocketio: manager closed")
)

// ConnectionError is a transport level failure that happened before the
// session reached the connected state.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("gosocketio: connect %s: %v", e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// HandlerError describes a handler that panicked. Other handlers for the
// same frame, and other sessions, keep running.
type HandlerError struct {
	Event string
	Value any
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("gosocketio: handler for %q panicked: %v", e.Event, e.Value)
}

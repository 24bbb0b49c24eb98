package gosocketio

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Lifecycle events. They are raised locally and travel through the same
// handlers as events pushed by the remote side.
const (
	EventConnect          = "connect"
	EventDisconnect       = "disconnect"
	EventError            = "error"
	EventReconnect        = "reconnect"
	EventReconnectAttempt = "reconnect_attempt"
	EventReconnectError   = "reconnect_error"
	EventReconnectFailed  = "reconnect_failed"
	// EventPing is raised on client sockets for every server heartbeat.
	EventPing = "ping"
)

// State is the connection state of a socket.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Args are positional event arguments in their wire form. They are
// decoded when a handler asks for them.
type Args []json.RawMessage

// Len returns the number of arguments.
func (a Args) Len() int { return len(a) }

// Scan decodes the arguments into dst, in order. A nil destination skips
// its argument. Asking for more arguments than were sent is an error.
func (a Args) Scan(dst ...any) error {
	for i, d := range dst {
		if d == nil {
			continue
		}
		if i >= len(a) {
			return fmt.Errorf("argument %d: missing", i)
		}
		if err := json.Unmarshal(a[i], d); err != nil {
			return fmt.Errorf("argument %d: %w", i, err)
		}
	}
	return nil
}

// Event is one delivered event.
type Event struct {
	Name string
	Args Args
	// Err is set on error, reconnect_error and similar lifecycle events.
	Err error

	reply *replyOnce
}

// Scan decodes the event arguments, see Args.Scan.
func (e *Event) Scan(dst ...any) error {
	return e.Args.Scan(dst...)
}

// AckRequested reports whether the sender waits for a reply.
func (e *Event) AckRequested() bool {
	return e.reply != nil
}

// Ack sends the reply to the sender. Only the first call sends anything;
// later calls, and calls on events without an ack id, do nothing.
func (e *Event) Ack(args ...any) error {
	if e.reply == nil {
		return nil
	}
	return e.reply.send(args)
}

type replyOnce struct {
	once sync.Once
	fn   func([]any) error
}

func (r *replyOnce) send(args []any) error {
	var err error
	r.once.Do(func() { err = r.fn(args) })
	return err
}

func newReply(fn func([]any) error) *replyOnce {
	return &replyOnce{fn: fn}
}

// localEvent builds a lifecycle event. Arguments are plain scalars, so
// encoding cannot fail.
func localEvent(name string, err error, args ...any) *Event {
	ev := &Event{Name: name, Err: err, Args: make(Args, 0, len(args))}
	for _, arg := range args {
		raw, _ := json.Marshal(arg)
		ev.Args = append(ev.Args, raw)
	}
	return ev
}

// EventHandler handles Socket.IO events
type EventHandler func(*Event)

// Listener identifies one registration, for Off.
type Listener struct {
	event string
	id    uint64
}

// Event returns the event name the listener was registered for.
func (l Listener) Event() string { return l.event }

type listener struct {
	id uint64
	fn EventHandler
}

// registry maps event names to handlers in registration order.
type registry struct {
	mu       sync.RWMutex
	seq      uint64
	handlers map[string][]listener
}

func (r *registry) on(event string, fn EventHandler) Listener {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.handlers == nil {
		r.handlers = make(map[string][]listener)
	}
	r.seq++
	r.handlers[event] = append(r.handlers[event], listener{id: r.seq, fn: fn})
	return Listener{event: event, id: r.seq}
}

func (r *registry) off(l Listener) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	list := r.handlers[l.event]
	for i, h := range list {
		if h.id != l.id {
			continue
		}
		// copy so snapshots taken by a running dispatch stay intact
		next := make([]listener, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(r.handlers, l.event)
		} else {
			r.handlers[l.event] = next
		}
		return true
	}
	return false
}

func (r *registry) offAll(event string) {
	r.mu.Lock()
	delete(r.handlers, event)
	r.mu.Unlock()
}

func (r *registry) snapshot(event string) []EventHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := r.handlers[event]
	out := make([]EventHandler, len(list))
	for i, h := range list {
		out[i] = h.fn
	}
	return out
}

// handles reports whether any handler is registered for event.
func (r *registry) handles(event string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[event]) > 0
}

// dispatch runs every handler for ev in order. A panicking handler is
// reported through fault and the remaining handlers still run.
func (r *registry) dispatch(ev *Event, fault func(*HandlerError)) int {
	handlers := r.snapshot(ev.Name)
	for _, fn := range handlers {
		call(fn, ev, fault)
	}
	return len(handlers)
}

func call(fn EventHandler, ev *Event, fault func(*HandlerError)) {
	defer func() {
		if v := recover(); v != nil && fault != nil {
			fault(&HandlerError{Event: ev.Name, Value: v})
		}
	}()
	fn(ev)
}

package gosocketio

import (
	"context"
	"errors"
	"sync"
	"time"
)

type ackResult struct {
	args Args
	err  error
}

// ackTable correlates outstanding acknowledgement requests of one
// session. Ids come from a counter and are never reused; an entry is
// removed by whichever outcome happens first.
type ackTable struct {
	mu      sync.Mutex
	next    int
	pending map[int]chan ackResult
}

func (t *ackTable) open() (int, chan ackResult) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.pending == nil {
		t.pending = make(map[int]chan ackResult)
	}
	id := t.next
	t.next++
	ch := make(chan ackResult, 1)
	t.pending[id] = ch
	return id, ch
}

// take removes the entry and returns its channel, if it was still pending.
func (t *ackTable) take(id int) (chan ackResult, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ch, ok := t.pending[id]
	if ok {
		delete(t.pending, id)
	}
	return ch, ok
}

func (t *ackTable) has(id int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.pending[id]
	return ok
}

// resolve delivers a reply. It reports false when nothing was waiting.
func (t *ackTable) resolve(id int, args Args) bool {
	ch, ok := t.take(id)
	if ok {
		ch <- ackResult{args: args}
	}
	return ok
}

// failAll fails every pending entry with err and returns how many there were.
func (t *ackTable) failAll(err error) int {
	t.mu.Lock()
	pending := t.pending
	t.pending = nil
	t.mu.Unlock()

	for _, ch := range pending {
		ch <- ackResult{err: err}
	}
	return len(pending)
}

func (t *ackTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// await registers an entry, hands its id to send and waits for the
// outcome. A zero timeout waits until a reply, a disconnect or ctx.
func (t *ackTable) await(ctx context.Context, timeout time.Duration, send func(id int) error) (Args, error) {
	id, ch := t.open()
	if err := send(id); err != nil {
		t.take(id)
		return nil, err
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadlineCause(ctx, time.Now().Add(timeout), ErrAckTimeout)
		defer cancel()
	}

	select {
	case r := <-ch:
		return r.args, r.err
	case <-ctx.Done():
		if _, ok := t.take(id); !ok {
			// resolved concurrently, the result is on its way
			r := <-ch
			return r.args, r.err
		}
		if errors.Is(context.Cause(ctx), ErrAckTimeout) {
			return nil, ErrAckTimeout
		}
		return nil, ctx.Err()
	}
}

// ackEmitter is implemented by both socket kinds.
type ackEmitter interface {
	emitWithAck(ctx context.Context, timeout time.Duration, event string, args []any) (Args, error)
}

// TimeoutEmitter emits with a per-call acknowledgement timeout, see
// Socket.Timeout and ClientSocket.Timeout.
type TimeoutEmitter struct {
	target  ackEmitter
	timeout time.Duration
}

// EmitWithAck sends the event and waits for the reply, failing with
// ErrAckTimeout once the timeout has elapsed.
func (e TimeoutEmitter) EmitWithAck(ctx context.Context, event string, args ...any) (Args, error) {
	return e.target.emitWithAck(ctx, e.timeout, event, args)
}

package gosocketio

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArgsScan(t *testing.T) {
	args := Args{json.RawMessage(`"a"`), json.RawMessage(`2`), json.RawMessage(`{"k":true}`)}

	var s string
	var n int
	var m map[string]bool
	require.NoError(t, args.Scan(&s, &n, &m))
	assert.Equal(t, "a", s)
	assert.Equal(t, 2, n)
	assert.Equal(t, map[string]bool{"k": true}, m)

	n = 0
	require.NoError(t, args.Scan(nil, &n))
	assert.Equal(t, 2, n)

	assert.Error(t, args.Scan(nil, nil, nil, &s), "missing argument")
	assert.Error(t, args.Scan(&n), "type mismatch")
}

func TestLocalEvent(t *testing.T) {
	cause := errors.New("boom")
	ev := localEvent(EventReconnectAttempt, cause, 3)

	var attempt int
	require.NoError(t, ev.Scan(&attempt))
	assert.Equal(t, 3, attempt)
	assert.Same(t, cause, ev.Err)
	assert.False(t, ev.AckRequested())
	assert.NoError(t, ev.Ack("ignored"))
}

func TestEventAckOnce(t *testing.T) {
	var sent [][]any
	ev := &Event{Name: "q", reply: newReply(func(args []any) error {
		sent = append(sent, args)
		return nil
	})}

	assert.True(t, ev.AckRequested())
	require.NoError(t, ev.Ack("first"))
	require.NoError(t, ev.Ack("second"))
	assert.Equal(t, [][]any{{"first"}}, sent)
}

func TestRegistryOrder(t *testing.T) {
	var r registry
	var calls []string

	r.on("e", func(*Event) { calls = append(calls, "a") })
	b := r.on("e", func(*Event) { calls = append(calls, "b") })
	r.on("e", func(*Event) { calls = append(calls, "c") })
	r.on("other", func(*Event) { calls = append(calls, "x") })

	assert.Equal(t, 3, r.dispatch(&Event{Name: "e"}, nil))
	assert.Equal(t, []string{"a", "b", "c"}, calls)

	assert.Equal(t, "e", b.Event())
	assert.True(t, r.off(b))
	assert.False(t, r.off(b))

	calls = nil
	r.dispatch(&Event{Name: "e"}, nil)
	assert.Equal(t, []string{"a", "c"}, calls)

	r.offAll("e")
	assert.Equal(t, 0, r.dispatch(&Event{Name: "e"}, nil))
	assert.Equal(t, 0, r.dispatch(&Event{Name: "missing"}, nil))
}

func TestRegistryDispatchSnapshot(t *testing.T) {
	var r registry
	var calls []string
	var second Listener

	r.on("e", func(*Event) {
		calls = append(calls, "first")
		r.off(second)
		r.on("e", func(*Event) { calls = append(calls, "late") })
	})
	second = r.on("e", func(*Event) { calls = append(calls, "second") })

	r.dispatch(&Event{Name: "e"}, nil)
	assert.Equal(t, []string{"first", "second"}, calls, "changes apply to the next frame")

	calls = nil
	r.dispatch(&Event{Name: "e"}, nil)
	assert.Equal(t, []string{"first", "late"}, calls)
}

func TestRegistryPanicIsolation(t *testing.T) {
	var r registry
	var faults []*HandlerError
	ran := false

	r.on("e", func(*Event) { panic("bad handler") })
	r.on("e", func(*Event) { ran = true })

	r.dispatch(&Event{Name: "e"}, func(err *HandlerError) { faults = append(faults, err) })

	assert.True(t, ran)
	require.Len(t, faults, 1)
	assert.Equal(t, "e", faults[0].Event)
	assert.Equal(t, "bad handler", faults[0].Value)
	assert.Contains(t, faults[0].Error(), "panicked")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
}

package gosocketio

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const waitTimeout = 3 * time.Second

func startServer(t *testing.T, config *Config) (*Server, *httptest.Server) {
	t.Helper()
	server := NewServer(config)
	ts := httptest.NewServer(server)
	t.Cleanup(func() {
		_ = server.Close()
		ts.Close()
	})
	return server, ts
}

// testOptions returns client options for a private Manager that connects
// only when asked and fails fast.
func testOptions() *Options {
	o := DefaultOptions()
	o.ForceNew = true
	o.AutoConnect = false
	o.Reconnection = false
	o.ReconnectionDelay = 20 * time.Millisecond
	o.ReconnectionDelayMax = 50 * time.Millisecond
	o.RandomizationFactor = 0
	o.Timeout = 2 * time.Second
	return o
}

func newClient(t *testing.T, url string, opts *Options) *ClientSocket {
	t.Helper()
	if opts == nil {
		opts = testOptions()
	}
	socket, err := Connect(url, opts)
	require.NoError(t, err)
	t.Cleanup(socket.Manager().Close)
	return socket
}

// connectClient connects socket and waits for the namespace connect.
func connectClient(t *testing.T, socket *ClientSocket) {
	t.Helper()
	connected := make(chan struct{}, 1)
	l := socket.On(EventConnect, func(*Event) { signal(connected) })
	defer socket.Off(l)

	socket.Connect()
	wait(t, connected, "connect")
}

func dialClient(t *testing.T, url string) *ClientSocket {
	t.Helper()
	socket := newClient(t, url, nil)
	connectClient(t, socket)
	return socket
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

func wait[T any](t *testing.T, ch chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %s", what)
		var zero T
		return zero
	}
}

func serverSockets(t *testing.T, server *Server, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return server.Of("/").Len() == n }, waitTimeout, 5*time.Millisecond)
}

package gosocketio

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoServer(t *testing.T) (*Server, string) {
	t.Helper()
	server, ts := startServer(t, nil)
	server.OnConnection(func(s *Socket) {
		s.On("echo", func(ev *Event) {
			reply := make([]any, ev.Args.Len())
			for i, raw := range ev.Args {
				reply[i] = raw
			}
			_ = ev.Ack(reply...)
		})
	})
	return server, ts.URL
}

func TestClientEmitWithAck(t *testing.T) {
	_, url := echoServer(t)
	client := dialClient(t, url)

	reply, err := client.Timeout(time.Second).EmitWithAck(context.Background(), "echo", "hi", 42)
	require.NoError(t, err)

	var s string
	var n int
	require.NoError(t, reply.Scan(&s, &n))
	assert.Equal(t, "hi", s)
	assert.Equal(t, 42, n)
	assert.Equal(t, 0, client.acks.size())
}

func TestClientAckTimeout(t *testing.T) {
	_, url := echoServer(t)
	client := dialClient(t, url)

	start := time.Now()
	_, err := client.Timeout(50*time.Millisecond).EmitWithAck(context.Background(), "never-answered")
	assert.ErrorIs(t, err, ErrAckTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, 0, client.acks.size())
}

func TestClientAckRetries(t *testing.T) {
	server, ts := startServer(t, nil)

	var seen atomic.Int32
	server.OnConnection(func(s *Socket) {
		s.On("flaky", func(ev *Event) {
			// only the third request is answered
			if seen.Add(1) == 3 {
				_ = ev.Ack("finally")
			}
		})
	})

	opts := testOptions()
	opts.Retries = 2
	opts.AckTimeout = 100 * time.Millisecond
	client := newClient(t, ts.URL, opts)
	connectClient(t, client)

	reply, err := client.EmitWithAck(context.Background(), "flaky")
	require.NoError(t, err)
	var msg string
	require.NoError(t, reply.Scan(&msg))
	assert.Equal(t, "finally", msg)
	assert.Equal(t, int32(3), seen.Load())
	assert.Equal(t, 0, client.acks.size())
}

func TestClientAckCanceled(t *testing.T) {
	_, url := echoServer(t)
	client := dialClient(t, url)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := client.EmitWithAck(ctx, "never-answered")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, client.acks.size())
}

func TestClientPendingAcksFailOnClose(t *testing.T) {
	server, ts := startServer(t, nil)
	received := make(chan struct{}, 1)
	server.OnConnection(func(s *Socket) {
		s.On("hang", func(*Event) { signal(received) })
	})

	client := dialClient(t, ts.URL)

	result := make(chan error, 1)
	go func() {
		_, err := client.EmitWithAck(context.Background(), "hang")
		result <- err
	}()
	wait(t, received, "hang")

	_ = server.Close()
	assert.ErrorIs(t, wait(t, result, "ack outcome"), ErrDisconnected)
	assert.Equal(t, 0, client.acks.size())
}

func TestClientNoAckLeakAcrossReconnects(t *testing.T) {
	_, url := echoServer(t)
	client := newClient(t, url, nil)

	for i := 0; i < 5; i++ {
		connectClient(t, client)
		_, err := client.Timeout(time.Second).EmitWithAck(context.Background(), "echo", i)
		require.NoError(t, err)

		disconnected := make(chan struct{}, 1)
		l := client.On(EventDisconnect, func(*Event) { signal(disconnected) })
		client.Disconnect()
		wait(t, disconnected, "disconnect")
		client.Off(l)

		assert.Equal(t, 0, client.acks.size())
		assert.True(t, client.Disconnected())
		assert.Empty(t, client.ID())
	}
}

func TestClientHandlersRunInOrder(t *testing.T) {
	server, ts := startServer(t, nil)
	server.OnConnection(func(s *Socket) {
		s.On("go", func(*Event) {
			for i := 0; i < 20; i++ {
				_ = s.Emit("tick", i)
			}
		})
	})

	client := dialClient(t, ts.URL)
	ticks := make(chan int, 20)
	client.On("tick", func(ev *Event) {
		var i int
		_ = ev.Scan(&i)
		ticks <- i
	})
	require.NoError(t, client.Emit("go"))

	for want := 0; want < 20; want++ {
		assert.Equal(t, want, wait(t, ticks, "tick"))
	}
}

func TestClientHandlerMayAwaitAck(t *testing.T) {
	_, url := echoServer(t)
	client := newClient(t, url, nil)

	// a handler waiting on a reply must not stall its own dispatch
	answered := make(chan string, 1)
	client.On(EventConnect, func(*Event) {
		reply, err := client.Timeout(time.Second).EmitWithAck(context.Background(), "echo", "from handler")
		if assert.NoError(t, err) {
			var s string
			_ = reply.Scan(&s)
			answered <- s
		}
	})
	client.Connect()

	assert.Equal(t, "from handler", wait(t, answered, "reply"))
}

func TestClientInvalidNamespace(t *testing.T) {
	_, ts := startServer(t, nil)
	client := newClient(t, ts.URL+"/missing", nil)

	errs := make(chan error, 1)
	client.On(EventError, func(ev *Event) { errs <- ev.Err })
	client.Connect()

	err := wait(t, errs, "error event")
	assert.ErrorIs(t, err, ErrInvalidNamespace)
	var connErr *ConnectionError
	assert.ErrorAs(t, err, &connErr)
	assert.False(t, client.Active())
	assert.True(t, client.Disconnected())
}

func TestClientConnectFailure(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	client := newClient(t, "http://"+addr, nil)
	errs := make(chan error, 1)
	client.On(EventError, func(ev *Event) { errs <- ev.Err })
	client.Connect()

	var connErr *ConnectionError
	assert.ErrorAs(t, wait(t, errs, "error event"), &connErr)
	require.Eventually(t, client.Disconnected, waitTimeout, 5*time.Millisecond)
	assert.False(t, client.Manager().Reconnecting())
}

func TestClientAuth(t *testing.T) {
	server, ts := startServer(t, nil)

	tokens := make(chan string, 2)
	server.OnConnection(func(s *Socket) {
		var auth struct {
			Token string `json:"token"`
		}
		_ = (Args{s.Handshake().Auth}).Scan(&auth)
		tokens <- auth.Token
	})

	opts := testOptions()
	opts.Auth = map[string]string{"token": "first"}
	client := newClient(t, ts.URL, opts)
	connectClient(t, client)
	assert.Equal(t, "first", wait(t, tokens, "token"))

	client.Disconnect()
	client.SetAuth(map[string]string{"token": "second"})
	assert.Equal(t, map[string]string{"token": "second"}, client.Auth())
	connectClient(t, client)
	assert.Equal(t, "second", wait(t, tokens, "token"))
}

func TestClientReconnects(t *testing.T) {
	server, url := echoServer(t)

	opts := testOptions()
	opts.Reconnection = true
	client := newClient(t, url, opts)
	connectClient(t, client)
	firstID := client.ID()

	var mu sync.Mutex
	var events []string
	record := func(name string) EventHandler {
		return func(*Event) {
			mu.Lock()
			events = append(events, name)
			mu.Unlock()
		}
	}
	reasons := make(chan string, 1)
	reconnected := make(chan int, 1)
	connected := make(chan struct{}, 1)

	client.On(EventDisconnect, func(ev *Event) {
		var reason string
		_ = ev.Scan(&reason)
		reasons <- reason
	})
	client.On(EventReconnectAttempt, record(EventReconnectAttempt))
	client.On(EventReconnect, func(ev *Event) {
		var attempt int
		_ = ev.Scan(&attempt)
		reconnected <- attempt
	})
	client.On(EventConnect, func(*Event) { signal(connected) })

	// drop every session; the server keeps accepting new ones
	server.eio.Close()

	assert.Equal(t, "transport close", wait(t, reasons, "disconnect"))
	assert.Equal(t, 1, wait(t, reconnected, "reconnect"))
	wait(t, connected, "connect")

	assert.True(t, client.Connected())
	assert.NotEqual(t, firstID, client.ID())
	mu.Lock()
	assert.Equal(t, []string{EventReconnectAttempt}, events)
	mu.Unlock()

	reply, err := client.Timeout(time.Second).EmitWithAck(context.Background(), "echo", "again")
	require.NoError(t, err)
	var s string
	require.NoError(t, reply.Scan(&s))
	assert.Equal(t, "again", s)
}

func TestClientReconnectFailed(t *testing.T) {
	server, ts := startServer(t, nil)

	opts := testOptions()
	opts.Reconnection = true
	opts.ReconnectionAttempts = 2
	client := newClient(t, ts.URL, opts)
	connectClient(t, client)

	var attempts, failures atomic.Int32
	gaveUp := make(chan struct{}, 1)
	client.On(EventReconnectAttempt, func(*Event) { attempts.Add(1) })
	client.On(EventReconnectError, func(ev *Event) {
		var connErr *ConnectionError
		assert.ErrorAs(t, ev.Err, &connErr)
		failures.Add(1)
	})
	client.On(EventReconnectFailed, func(*Event) { signal(gaveUp) })

	_ = server.Close()
	ts.Close()

	wait(t, gaveUp, "reconnect_failed")
	assert.Equal(t, int32(2), attempts.Load())
	assert.Equal(t, int32(2), failures.Load())
	require.Eventually(t, func() bool { return !client.Manager().Reconnecting() }, waitTimeout, 5*time.Millisecond)
}

func TestClientEmitBufferedUntilConnected(t *testing.T) {
	server, ts := startServer(t, nil)

	got := make(chan int, 3)
	server.OnConnection(func(s *Socket) {
		s.On("queued", func(ev *Event) {
			var i int
			_ = ev.Scan(&i)
			got <- i
		})
	})

	client := newClient(t, ts.URL, nil)
	for i := 0; i < 3; i++ {
		require.NoError(t, client.Emit("queued", i))
	}
	assert.False(t, client.Connected())
	client.Connect()

	for want := 0; want < 3; want++ {
		assert.Equal(t, want, wait(t, got, "queued event"))
	}
}

func TestClientDisconnectReleasesConnection(t *testing.T) {
	server, ts := startServer(t, nil)

	reasons := make(chan string, 1)
	server.OnConnection(func(s *Socket) {
		s.On(EventDisconnect, func(ev *Event) {
			var reason string
			_ = ev.Scan(&reason)
			reasons <- reason
		})
	})

	opts := testOptions()
	opts.Reconnection = true
	client := newClient(t, ts.URL, opts)
	connectClient(t, client)

	client.Disconnect()
	assert.Equal(t, "client namespace disconnect", wait(t, reasons, "server side disconnect"))
	require.Eventually(t, func() bool { return server.eio.Count() == 0 }, waitTimeout, 5*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.False(t, client.Manager().Connected(), "a released connection is not reopened")
	assert.False(t, client.Manager().Reconnecting())
}

func TestConnectSharesManagers(t *testing.T) {
	opts := testOptions()
	opts.ForceNew = false

	url := "http://shared.test:3000"
	a, err := Connect(url+"/a", opts)
	require.NoError(t, err)
	b, err := Connect(url+"/b", opts)
	require.NoError(t, err)
	again, err := Connect(url+"/a", opts)
	require.NoError(t, err)

	assert.Same(t, a.Manager(), b.Manager())
	assert.NotSame(t, a.Manager(), again.Manager(), "a namespace in use gets its own Manager")
	assert.Equal(t, "/a", a.Namespace())
	assert.Equal(t, "/b", b.Namespace())

	a.Manager().Close()
	again.Manager().Close()
	c, err := Connect(url+"/c", opts)
	require.NoError(t, err)
	assert.NotSame(t, a.Manager(), c.Manager(), "a closed Manager leaves the cache")
	c.Manager().Close()

	opts.Multiplex = false
	d, err := Connect(url+"/d", opts)
	require.NoError(t, err)
	e, err := Connect(url+"/e", opts)
	require.NoError(t, err)
	assert.NotSame(t, d.Manager(), e.Manager())
}

func TestManagerCacheCreatesOnce(t *testing.T) {
	cache := &managerCache{entries: make(map[string]*cacheEntry)}
	o, err := testOptions().normalize()
	require.NoError(t, err)

	var created atomic.Int32
	create := func() (*Manager, error) {
		created.Add(1)
		time.Sleep(20 * time.Millisecond)
		return newManager("http://once.test", o)
	}

	var wg sync.WaitGroup
	results := make([]*Manager, 10)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := cache.get("key", create)
			assert.NoError(t, err)
			results[i] = m
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load())
	for _, m := range results {
		assert.Same(t, results[0], m)
	}

	cache.forget("key", results[0])
	assert.Equal(t, 0, cache.len())

	boom := errors.New("boom")
	_, err = cache.get("bad", func() (*Manager, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, cache.len(), "failed creations are not cached")
}

func TestManagerRejectsBadURL(t *testing.T) {
	_, err := NewManager("not a url", nil)
	assert.Error(t, err)
	_, err = NewManager("http://ok.test", &Options{Transports: []string{"polling"}})
	assert.Error(t, err)
}

func TestManagerOpenAfterClose(t *testing.T) {
	opts := testOptions()
	m, err := NewManager("http://closed.test", opts)
	require.NoError(t, err)
	m.Close()
	assert.ErrorIs(t, m.Open(context.Background()), ErrManagerClosed)
}

func TestConnectOnClosedManager(t *testing.T) {
	m, err := NewManager("http://closed.test", testOptions())
	require.NoError(t, err)
	m.Close()

	s := m.Socket("/late")
	errs := make(chan error, 1)
	s.On(EventError, func(ev *Event) { errs <- ev.Err })
	s.Connect()

	assert.ErrorIs(t, wait(t, errs, "error event"), ErrManagerClosed)
	assert.Equal(t, StateDisconnected, s.State())
	assert.False(t, s.Active())
}

func TestClientPingEvents(t *testing.T) {
	_, ts := startServer(t, &Config{PingInterval: 20 * time.Millisecond, PingTimeout: time.Second})

	client := newClient(t, ts.URL, nil)
	var pings atomic.Int32
	client.On(EventPing, func(*Event) { pings.Add(1) })
	connectClient(t, client)

	require.Eventually(t, func() bool { return pings.Load() >= 3 }, waitTimeout, 5*time.Millisecond)
	assert.True(t, client.Connected())
}

// Package gosocketio implements Socket.IO v4 over Engine.IO v4 WebSocket
// sessions, both as a server and as a client.
//
// It is an event multiplexer: named events with positional JSON arguments
// travel in both directions, optionally with a reply (an acknowledgement)
// correlated by id. Long-polling and binary attachments are not supported.
//
// # Features
//
//   - Server with namespaces, rooms and broadcasting
//   - Client Manager with automatic reconnection and backoff
//   - Acknowledgements with timeouts, cancellation and retries
//   - Per socket ordered dispatch; a panicking handler is isolated
//   - Structured logging with zap, optional Prometheus metrics
//
// # Server
//
//	server := gosocketio.NewServer(&gosocketio.Config{Logger: logger})
//
//	server.OnConnection(func(socket *gosocketio.Socket) {
//	    socket.Emit("welcome", "hello "+socket.ID())
//
//	    socket.On("greet", func(ev *gosocketio.Event) {
//	        var name string
//	        if err := ev.Scan(&name); err != nil {
//	            return
//	        }
//	        ev.Ack("hi " + name)
//	    })
//
//	    socket.On(gosocketio.EventDisconnect, func(ev *gosocketio.Event) {
//	        var reason string
//	        _ = ev.Scan(&reason)
//	        logger.Info("gone", zap.String("reason", reason))
//	    })
//	})
//
//	http.Handle("/socket.io/", server)
//	http.ListenAndServe(":3000", nil)
//
// Connection handlers run on the socket's dispatch goroutine before any of
// its events, so nothing the client sends right after connecting is lost.
//
// # Client
//
//	opts := gosocketio.DefaultOptions()
//	opts.AutoConnect = false
//
//	socket, err := gosocketio.Connect("http://localhost:3000/", opts)
//	if err != nil {
//	    return err
//	}
//	socket.On("welcome", func(ev *gosocketio.Event) { ... })
//	socket.Connect()
//
//	reply, err := socket.Timeout(5*time.Second).EmitWithAck(ctx, "greet", "gopher")
//
// Sockets for several namespaces of one server share a Manager and its
// connection. Emits made while disconnected are buffered until the
// namespace is connected again.
//
// # Broadcasting
//
//	server.Emit("news", "to everyone")
//	server.To("room1", "room2").Emit("news", "to two rooms")
//	server.To("room1").Except(socket.ID()).Emit("news", "to the others")
//
// A broadcast is encoded once and written to each recipient without
// blocking; a recipient that cannot take it is skipped.
package gosocketio

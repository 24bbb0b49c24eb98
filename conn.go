package gosocketio

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/spawndev/gosocketio/engineio"
	"go.uber.org/zap"
)

// conn demultiplexes one Engine.IO session into per-namespace sockets.
type conn struct {
	server  *Server
	session *engineio.Session
	logger  *zap.Logger

	mu      sync.Mutex
	sockets map[string]*Socket
}

func newConn(server *Server, session *engineio.Session) *conn {
	c := &conn{
		server:  server,
		session: session,
		logger:  server.logger.With(zap.String("eio", session.ID())),
		sockets: make(map[string]*Socket),
	}

	session.OnMessage(c.handleMessage)
	session.OnClose(c.handleClose)

	return c
}

func (c *conn) send(p *Packet) error {
	if err := c.session.SendMessage([]byte(p.Encode())); err != nil {
		if errors.Is(err, engineio.ErrSessionClosed) {
			return ErrDisconnected
		}
		return err
	}
	return nil
}

func (c *conn) socket(namespace string) *Socket {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sockets[namespace]
}

func (c *conn) detach(namespace string) {
	c.mu.Lock()
	delete(c.sockets, namespace)
	c.mu.Unlock()
}

// closeIfIdle drops the transport once no namespace is left on it.
func (c *conn) closeIfIdle(reason string) {
	c.mu.Lock()
	idle := len(c.sockets) == 0
	c.mu.Unlock()

	if idle {
		c.session.Close(reason)
	}
}

// handleMessage runs on the session read loop, so packets of one
// connection are handled in arrival order.
func (c *conn) handleMessage(data []byte) {
	packet, err := DecodePacket(string(data))
	if err != nil {
		c.logger.Debug("dropping packet", zap.Error(err))
		return
	}

	if packet.Type == PacketTypeConnect {
		c.connect(packet)
		return
	}

	socket := c.socket(packet.Namespace)
	if socket == nil {
		c.logger.Debug("packet for unconnected namespace",
			zap.String("nsp", packet.Namespace), zap.Stringer("type", packet.Type))
		return
	}

	switch packet.Type {
	case PacketTypeEvent:
		socket.handleEvent(packet)
	case PacketTypeAck:
		socket.handleAck(packet)
	case PacketTypeDisconnect:
		socket.close("client namespace disconnect", false)
	default:
		c.logger.Debug("unexpected packet", zap.Stringer("type", packet.Type))
	}
}

func (c *conn) connect(packet *Packet) {
	ns, ok := c.server.lookup(packet.Namespace)
	if !ok {
		data, _ := json.Marshal(map[string]string{"message": "Invalid namespace"})
		_ = c.send(&Packet{Type: PacketTypeConnectError, Namespace: packet.Namespace, Data: data})
		c.logger.Debug("rejected namespace", zap.String("nsp", packet.Namespace), zap.Error(ErrInvalidNamespace))
		return
	}

	c.mu.Lock()
	if _, dup := c.sockets[ns.name]; dup {
		c.mu.Unlock()
		return
	}
	socket := newSocket(engineio.GenerateID(), c, ns, newHandshake(c.session, packet.Data))
	c.sockets[ns.name] = socket
	c.mu.Unlock()

	ns.addSocket(socket)
}

func (c *conn) handleClose(reason string) {
	c.mu.Lock()
	sockets := make([]*Socket, 0, len(c.sockets))
	for _, s := range c.sockets {
		sockets = append(sockets, s)
	}
	c.mu.Unlock()

	for _, s := range sockets {
		s.close(reason, false)
	}
}

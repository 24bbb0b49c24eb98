package gosocketio

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/spawndev/gosocketio/engineio"
	"go.uber.org/zap"
)

const reasonClientDisconnect = "io client disconnect"

var errInProgress = errors.New("connection in progress")

// Manager owns the Engine.IO connection to one server and multiplexes
// namespace sockets over it. It dials, reconnects with backoff and routes
// incoming packets to the socket of their namespace.
type Manager struct {
	uri      string
	cacheKey string
	opts     Options
	logger   *zap.Logger
	metrics  *Metrics
	dialer   *engineio.Dialer
	backoff  *Backoff

	mu            sync.Mutex
	state         State
	session       *engineio.Session
	sockets       map[string]*ClientSocket
	reconnecting  bool
	skipReconnect bool
	closed        bool
	done          chan struct{}
}

// NewManager creates a Manager for the server at rawURL. The URL path is
// ignored; the endpoint path comes from Options.Path. With AutoConnect
// the connection starts in the background right away.
func NewManager(rawURL string, opts *Options) (*Manager, error) {
	o, err := opts.normalize()
	if err != nil {
		return nil, err
	}
	m, err := newManager(rawURL, o)
	if err != nil {
		return nil, err
	}
	if o.AutoConnect {
		go m.Open(context.Background())
	}
	return m, nil
}

func newManager(rawURL string, o Options) (*Manager, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("gosocketio: parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("gosocketio: url %q needs a scheme and host", rawURL)
	}

	query := u.Query()
	for k, vs := range o.Query {
		for _, v := range vs {
			query.Add(k, v)
		}
	}

	endpoint := url.URL{Scheme: u.Scheme, Host: u.Host, User: u.User, Path: o.Path}

	dialer := &engineio.Dialer{
		Header:       o.ExtraHeaders.Clone(),
		Query:        query,
		Subprotocols: o.Protocols,
		Logger:       o.Logger,
	}
	if o.TimestampRequests {
		dialer.TimestampParam = o.TimestampParam
	}

	return &Manager{
		uri:     endpoint.String(),
		opts:    o,
		logger:  o.Logger.With(zap.String("url", endpoint.Redacted())),
		metrics: o.Metrics,
		dialer:  dialer,
		backoff: NewBackoff(o.ReconnectionDelay, o.ReconnectionDelayMax, o.RandomizationFactor),
		sockets: make(map[string]*ClientSocket),
		done:    make(chan struct{}),
	}, nil
}

// Socket returns the socket for a namespace, creating it on first use.
// A new socket is not connected; call its Connect method.
func (m *Manager) Socket(namespace string) *ClientSocket {
	namespace = normalizeNamespace(namespace)

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sockets[namespace]
	if !ok {
		s = newClientSocket(m, namespace)
		m.sockets[namespace] = s
	}
	return s
}

func (m *Manager) hasSocket(namespace string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sockets[normalizeNamespace(namespace)]
	return ok
}

// Connected reports whether the Engine.IO connection is up.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateConnected
}

// Reconnecting reports whether the reconnection loop is running.
func (m *Manager) Reconnecting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnecting
}

// Open connects unless a connection is up or being made. A failed
// attempt is reported to every socket as an error event and, with
// reconnection enabled, hands over to the reconnection loop.
func (m *Manager) Open(ctx context.Context) error {
	m.mu.Lock()
	busy := m.reconnecting
	m.mu.Unlock()
	if busy {
		return nil
	}

	err := m.dialOnce(ctx)
	switch {
	case err == nil, errors.Is(err, errInProgress):
		return nil
	case errors.Is(err, ErrManagerClosed):
		return err
	}

	m.logger.Warn("connection failed", zap.Error(err))
	m.emitAll(localEvent(EventError, err))
	if m.opts.Reconnection {
		m.startReconnect()
	} else {
		for _, s := range m.socketList() {
			s.handleClose("connect failed")
		}
	}
	return err
}

// Close shuts the connection down for good and stops reconnecting.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.done)
	session := m.session
	m.mu.Unlock()

	if session != nil {
		session.Close(reasonClientDisconnect)
	}
	for _, s := range m.socketList() {
		s.shutdown()
	}
	if m.cacheKey != "" {
		managers.forget(m.cacheKey, m)
	}
}

func (m *Manager) socketList() []*ClientSocket {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*ClientSocket, 0, len(m.sockets))
	for _, s := range m.sockets {
		out = append(out, s)
	}
	return out
}

func (m *Manager) emitAll(ev *Event) {
	for _, s := range m.socketList() {
		s.emitLocal(ev)
	}
}

func (m *Manager) send(p *Packet) error {
	m.mu.Lock()
	session := m.session
	m.mu.Unlock()

	if session == nil {
		return ErrDisconnected
	}
	if err := session.SendMessage([]byte(p.Encode())); err != nil {
		if errors.Is(err, engineio.ErrSessionClosed) {
			return ErrDisconnected
		}
		return err
	}
	return nil
}

// dialOnce makes a single connection attempt bounded by Options.Timeout.
func (m *Manager) dialOnce(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	if m.state != StateDisconnected {
		m.mu.Unlock()
		return errInProgress
	}
	m.state = StateConnecting
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	session, err := m.dialer.Dial(ctx, m.uri)
	if err != nil {
		m.mu.Lock()
		m.state = StateDisconnected
		m.mu.Unlock()
		return &ConnectionError{URL: m.uri, Err: err}
	}

	m.mu.Lock()
	if m.closed {
		m.state = StateDisconnected
		m.mu.Unlock()
		session.Close(reasonClientDisconnect)
		return ErrManagerClosed
	}
	m.session = session
	m.state = StateConnected
	m.mu.Unlock()

	session.OnMessage(m.handleMessage)
	session.OnPing(func() { m.emitAll(localEvent(EventPing, nil)) })
	session.OnClose(func(reason string) { m.handleClose(session, reason) })
	session.Start()

	m.logger.Debug("connected", zap.String("eio", session.ID()))
	for _, s := range m.socketList() {
		s.handleOpen()
	}
	return nil
}

func (m *Manager) handleMessage(data []byte) {
	packet, err := DecodePacket(string(data))
	if err != nil {
		m.logger.Debug("dropping packet", zap.Error(err))
		return
	}

	m.mu.Lock()
	s := m.sockets[packet.Namespace]
	m.mu.Unlock()

	if s == nil {
		m.logger.Debug("packet for unknown namespace", zap.String("nsp", packet.Namespace))
		return
	}
	s.handlePacket(packet)
}

func (m *Manager) handleClose(session *engineio.Session, reason string) {
	m.mu.Lock()
	if m.session != session {
		m.mu.Unlock()
		return
	}
	m.session = nil
	m.state = StateDisconnected
	reconnect := m.opts.Reconnection && !m.closed && !m.skipReconnect
	m.skipReconnect = false
	m.mu.Unlock()

	m.logger.Debug("connection closed", zap.String("reason", reason))
	for _, s := range m.socketList() {
		s.handleClose(reason)
	}
	if reconnect {
		m.startReconnect()
	}
}

// release closes the connection once no socket wants it anymore.
func (m *Manager) release() {
	for _, s := range m.socketList() {
		if s.Active() {
			return
		}
	}

	m.mu.Lock()
	session := m.session
	m.skipReconnect = session != nil
	m.mu.Unlock()

	if session != nil {
		session.Close(reasonClientDisconnect)
	}
}

func (m *Manager) anyActive() bool {
	for _, s := range m.socketList() {
		if s.Active() {
			return true
		}
	}
	return false
}

// startReconnect starts the loop unless it is already running: there is
// never more than one attempt in flight.
func (m *Manager) startReconnect() {
	m.mu.Lock()
	if m.reconnecting || m.closed {
		m.mu.Unlock()
		return
	}
	m.reconnecting = true
	m.mu.Unlock()

	go m.reconnectLoop()
}

func (m *Manager) reconnectLoop() {
	defer func() {
		m.mu.Lock()
		m.reconnecting = false
		m.mu.Unlock()
	}()

	for attempt := 1; ; attempt++ {
		if limit := m.opts.ReconnectionAttempts; limit > 0 && attempt > limit {
			m.backoff.Reset()
			m.metrics.reconnect("failed")
			m.logger.Warn("reconnection failed", zap.Int("attempts", limit))
			m.emitAll(localEvent(EventReconnectFailed, nil))
			return
		}

		timer := time.NewTimer(m.backoff.Duration())
		select {
		case <-m.done:
			timer.Stop()
			return
		case <-timer.C:
		}

		if !m.anyActive() {
			return
		}

		m.metrics.reconnect("attempt")
		m.emitAll(localEvent(EventReconnectAttempt, nil, attempt))

		err := m.dialOnce(context.Background())
		switch {
		case err == nil:
			m.backoff.Reset()
			m.metrics.reconnect("success")
			m.logger.Info("reconnected", zap.Int("attempt", attempt))
			m.emitAll(localEvent(EventReconnect, nil, attempt))
			return
		case errors.Is(err, ErrManagerClosed), errors.Is(err, errInProgress):
			return
		default:
			m.metrics.reconnect("error")
			m.logger.Debug("reconnection attempt failed", zap.Int("attempt", attempt), zap.Error(err))
			m.emitAll(localEvent(EventReconnectError, err))
		}
	}
}

func normalizeNamespace(ns string) string {
	if ns == "" {
		return defaultNamespace
	}
	if !strings.HasPrefix(ns, "/") {
		return "/" + ns
	}
	return ns
}

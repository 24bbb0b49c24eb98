package engineio

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ErrInvalidOpen is returned when the server does not start with a valid open packet.
var ErrInvalidOpen = errors.New("invalid open packet")

// Dialer opens client sessions.
type Dialer struct {
	// Header is sent with the upgrade request.
	Header http.Header
	// Query is merged into the endpoint query string.
	Query url.Values
	// TimestampParam names the cache-busting query parameter. Empty disables it.
	TimestampParam string
	Subprotocols   []string

	Logger *zap.Logger
}

// Dial connects to an Engine.IO endpoint. Schemes http and https are mapped
// to ws and wss. The returned session has not been started: install
// handlers first, then call Start.
func (d *Dialer) Dial(ctx context.Context, endpoint string) (*Session, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	q := u.Query()
	for k, vs := range d.Query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	q.Set("EIO", strconv.Itoa(Protocol))
	q.Set("transport", "websocket")
	if d.TimestampParam != "" {
		q.Set(d.TimestampParam, strconv.FormatInt(time.Now().UnixMilli(), 36))
	}
	u.RawQuery = q.Encode()

	ws := websocket.Dialer{
		Proxy:           http.ProxyFromEnvironment,
		Subprotocols:    d.Subprotocols,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}

	conn, resp, err := ws.DialContext(ctx, u.String(), d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", u.Redacted(), err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", u.Redacted(), err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	_, frame, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("read open packet: %w", err)
	}
	_ = conn.SetReadDeadline(time.Time{})

	h, err := DecodeHandshake(frame)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: %v", ErrInvalidOpen, err)
	}

	return newSession(h.SID, conn, roleClient, h, d.Logger), nil
}

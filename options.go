package gosocketio

import (
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"time"

	"go.uber.org/zap"
)

// TransportWebSocket is the only transport implemented.
const TransportWebSocket = "websocket"

// Options configure a Manager and the sockets it creates. Start from
// DefaultOptions: boolean fields are taken as given, zero durations and
// counts fall back to their defaults. The snapshot is fixed once the
// Manager exists; only the acknowledgement timeout can vary per call.
type Options struct {
	// ForceNew always creates a new Manager in Connect.
	ForceNew bool
	// Multiplex lets Connect reuse a Manager for the same server.
	Multiplex bool

	// Path of the endpoint on the server (default "/socket.io/").
	Path string
	// AddTrailingSlash keeps the trailing slash of Path.
	AddTrailingSlash bool
	// Transports in order of preference. Only "websocket" is available.
	Transports []string
	// Upgrade is accepted for parity with other clients; a WebSocket
	// session has nothing to upgrade to.
	Upgrade bool

	// AutoConnect connects as soon as the Manager or socket is created.
	AutoConnect bool
	// Reconnection retries lost or failed connections with backoff.
	Reconnection bool
	// ReconnectionAttempts caps consecutive attempts, 0 for no cap.
	ReconnectionAttempts int
	ReconnectionDelay    time.Duration
	ReconnectionDelayMax time.Duration
	// RandomizationFactor in [0, 1) spreads reconnection delays.
	RandomizationFactor float64
	// Timeout bounds each connection attempt.
	Timeout time.Duration

	// AckTimeout bounds EmitWithAck; 0 waits for a reply or a disconnect.
	AckTimeout time.Duration
	// Retries re-sends an acknowledged emit that timed out, each time
	// under a new acknowledgement id.
	Retries int

	// Auth is sent with every namespace connect. It must encode to a JSON object.
	Auth any
	// ExtraHeaders are added to the upgrade request.
	ExtraHeaders http.Header
	// Query is added to the endpoint query string.
	Query url.Values
	// WithCredentials only has a meaning for browser clients.
	WithCredentials bool
	// Protocols are offered as WebSocket subprotocols.
	Protocols []string

	// TimestampRequests adds a cache-busting parameter named TimestampParam.
	TimestampRequests bool
	TimestampParam    string

	Logger  *zap.Logger
	Metrics *Metrics
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() *Options {
	return &Options{
		Multiplex:            true,
		Path:                 DefaultPath,
		AddTrailingSlash:     true,
		Transports:           []string{TransportWebSocket},
		Upgrade:              true,
		AutoConnect:          true,
		Reconnection:         true,
		ReconnectionDelay:    time.Second,
		ReconnectionDelayMax: 5 * time.Second,
		RandomizationFactor:  0.5,
		Timeout:              20 * time.Second,
		TimestampRequests:    true,
		TimestampParam:       "t",
	}
}

// normalize returns a copy with unset values defaulted, or an error for
// values that cannot work.
func (o *Options) normalize() (Options, error) {
	if o == nil {
		o = DefaultOptions()
	}
	out := *o
	def := DefaultOptions()

	if out.Path == "" {
		out.Path = def.Path
	}
	if out.Path[0] != '/' {
		out.Path = "/" + out.Path
	}
	if !out.AddTrailingSlash {
		for len(out.Path) > 1 && out.Path[len(out.Path)-1] == '/' {
			out.Path = out.Path[:len(out.Path)-1]
		}
	} else if out.Path[len(out.Path)-1] != '/' {
		out.Path += "/"
	}

	if len(out.Transports) == 0 {
		out.Transports = def.Transports
	}
	if !slices.Contains(out.Transports, TransportWebSocket) {
		return out, fmt.Errorf("gosocketio: no supported transport in %v", out.Transports)
	}

	if out.ReconnectionDelay <= 0 {
		out.ReconnectionDelay = def.ReconnectionDelay
	}
	if out.ReconnectionDelayMax <= 0 {
		out.ReconnectionDelayMax = def.ReconnectionDelayMax
	}
	if out.RandomizationFactor < 0 || out.RandomizationFactor >= 1 {
		return out, fmt.Errorf("gosocketio: randomization factor %v out of [0, 1)", out.RandomizationFactor)
	}
	if out.Timeout <= 0 {
		out.Timeout = def.Timeout
	}
	if out.ReconnectionAttempts < 0 || out.Retries < 0 {
		return out, fmt.Errorf("gosocketio: negative attempt count")
	}
	if out.TimestampRequests && out.TimestampParam == "" {
		out.TimestampParam = def.TimestampParam
	}
	if out.Logger == nil {
		out.Logger = zap.NewNop()
	}
	return out, nil
}

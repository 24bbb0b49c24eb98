package demo

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	sio "github.com/spawndev/gosocketio"
	"github.com/spawndev/gosocketio/internal/config"
)

// Report is what the demo client saw.
type Report struct {
	ID        string
	Welcome   string
	LastBy    string
	Count     int
	Forecasts []Forecast
	TupleErr  *string
	TupleOK   bool
}

type countChange struct {
	by    string
	count int
}

// RunClient connects to the demo server, waits for the welcome, bumps the
// counter and reads it back, then fetches the weather and the tuple.
func RunClient(ctx context.Context, cfg config.ClientConfig, logger *zap.Logger) (*Report, error) {
	opts := sio.DefaultOptions()
	opts.ForceNew = true
	opts.AutoConnect = false
	opts.Reconnection = cfg.Reconnection
	opts.ReconnectionAttempts = cfg.ReconnectionAttempts
	opts.Timeout = cfg.Timeout
	opts.AckTimeout = cfg.AckTimeout
	opts.Logger = logger.Named("sio")

	socket, err := sio.Connect(cfg.URL, opts)
	if err != nil {
		return nil, err
	}
	defer socket.Manager().Close()

	welcome := make(chan string, 1)
	failed := make(chan error, 1)
	changes := make(chan countChange, 16)

	socket.On("welcome", func(ev *sio.Event) {
		var msg string
		if err := ev.Scan(&msg); err == nil {
			offer(welcome, msg)
		}
	})
	socket.On(sio.EventError, func(ev *sio.Event) {
		if !cfg.Reconnection || errors.Is(ev.Err, sio.ErrInvalidNamespace) {
			offer(failed, ev.Err)
			return
		}
		logger.Warn("connect failed", zap.Error(ev.Err))
	})
	socket.On(sio.EventReconnectFailed, func(ev *sio.Event) {
		offer(failed, errors.New("gave up reconnecting"))
	})
	socket.On(sio.EventReconnectAttempt, func(ev *sio.Event) {
		var attempt int
		_ = ev.Scan(&attempt)
		logger.Info("reconnecting", zap.Int("attempt", attempt))
	})
	socket.On("countChanged", func(ev *sio.Event) {
		var c countChange
		if err := ev.Scan(&c.by, &c.count); err != nil {
			logger.Warn("bad countChanged", zap.Error(err))
			return
		}
		offer(changes, c)
	})

	socket.Connect()

	report := &Report{}
	select {
	case report.Welcome = <-welcome:
	case err := <-failed:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	report.ID = socket.ID()
	logger.Info("welcome received", zap.String("message", report.Welcome))

	if err := socket.Emit("incrementCount"); err != nil {
		return nil, err
	}
	if err := awaitOwnChange(ctx, changes, report.ID); err != nil {
		return nil, err
	}

	reply, err := socket.EmitWithAck(ctx, "getCount")
	if err != nil {
		return nil, fmt.Errorf("getCount: %w", err)
	}
	var pair sio.Args
	if err := reply.Scan(&pair); err != nil {
		return nil, fmt.Errorf("getCount: %w", err)
	}
	if err := pair.Scan(&report.LastBy, &report.Count); err != nil {
		return nil, fmt.Errorf("getCount: %w", err)
	}
	logger.Info("count", zap.String("last_by", report.LastBy), zap.Int("count", report.Count))

	reply, err = socket.EmitWithAck(ctx, "getWeather")
	if err != nil {
		return nil, fmt.Errorf("getWeather: %w", err)
	}
	if err := reply.Scan(&report.Forecasts); err != nil {
		return nil, fmt.Errorf("getWeather: %w", err)
	}
	for _, f := range report.Forecasts {
		logger.Info("forecast", zap.String("date", f.Date), zap.Int("temperature_c", f.TemperatureC), zap.String("summary", f.Summary))
	}

	reply, err = socket.EmitWithAck(ctx, "testTupleReturn")
	if err != nil {
		return nil, fmt.Errorf("testTupleReturn: %w", err)
	}
	var tuple sio.Args
	if err := reply.Scan(&tuple); err != nil {
		return nil, fmt.Errorf("testTupleReturn: %w", err)
	}
	if err := tuple.Scan(&report.TupleErr, &report.TupleOK); err != nil {
		return nil, fmt.Errorf("testTupleReturn: %w", err)
	}

	socket.Disconnect()
	return report, nil
}

func awaitOwnChange(ctx context.Context, changes <-chan countChange, id string) error {
	for {
		select {
		case c := <-changes:
			if c.by == id {
				return nil
			}
		case <-ctx.Done():
			return fmt.Errorf("waiting for countChanged: %w", ctx.Err())
		}
	}
}

func offer[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}

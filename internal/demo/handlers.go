// Package demo is the counter and weather server used to exercise the
// library end to end, and the client that talks to it.
package demo

import (
	"sync"

	"go.uber.org/zap"

	sio "github.com/spawndev/gosocketio"
)

// Forecast is one weather record returned by getWeather.
type Forecast struct {
	Date         string `json:"date"`
	TemperatureC int    `json:"temperatureC"`
	Summary      string `json:"summary"`
}

// Forecasts are the fixed records served by getWeather.
var Forecasts = []Forecast{
	{Date: "2022-01-06", TemperatureC: 1, Summary: "Freezing"},
	{Date: "2022-01-07", TemperatureC: 14, Summary: "Bracing"},
	{Date: "2022-01-08", TemperatureC: -13, Summary: "Freezing"},
	{Date: "2022-01-09", TemperatureC: -16, Summary: "Balmy"},
	{Date: "2022-01-10", TemperatureC: -2, Summary: "Chilly"},
}

// Counter is the count shared by every connected socket.
type Counter struct {
	mu     sync.Mutex
	count  int
	lastBy string
}

// Increment bumps the count on behalf of id. notify runs under the lock so
// notifications go out in count order.
func (c *Counter) Increment(id string, notify func(lastBy string, count int)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.count++
	c.lastBy = id
	if notify != nil {
		notify(c.lastBy, c.count)
	}
}

// Get returns the socket that changed the count last, and the count.
func (c *Counter) Get() (string, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastBy, c.count
}

// Register installs the demo events on the default namespace.
func Register(server *sio.Server, counter *Counter, logger *zap.Logger) {
	server.OnConnection(func(socket *sio.Socket) {
		log := logger.With(zap.String("sid", socket.ID()))
		log.Info("socket connection")

		if err := socket.Emit("welcome", "Welcome to my server! "+socket.ID()); err != nil {
			log.Warn("welcome not sent", zap.Error(err))
		}

		socket.On(sio.EventDisconnect, func(ev *sio.Event) {
			var reason string
			_ = ev.Scan(&reason)
			log.Info("socket disconnect", zap.String("reason", reason))
		})

		socket.On("incrementCount", func(ev *sio.Event) {
			counter.Increment(socket.ID(), func(lastBy string, count int) {
				if err := server.Emit("countChanged", lastBy, count); err != nil {
					log.Warn("countChanged not sent", zap.Error(err))
				}
			})
		})

		socket.On("getCount", func(ev *sio.Event) {
			lastBy, count := counter.Get()
			reply(log, ev, []any{lastBy, count})
		})

		socket.On("getWeather", func(ev *sio.Event) {
			log.Info("socket getWeather")
			reply(log, ev, Forecasts)
		})

		// an (error, result) pair in one argument
		socket.On("testTupleReturn", func(ev *sio.Event) {
			log.Info("socket testTupleReturn")
			reply(log, ev, []any{nil, true})
		})
	})
}

func reply(log *zap.Logger, ev *sio.Event, value any) {
	if !ev.AckRequested() {
		log.Debug("event without ack id", zap.String("event", ev.Name))
		return
	}
	if err := ev.Ack(value); err != nil {
		log.Warn("reply not sent", zap.String("event", ev.Name), zap.Error(err))
	}
}

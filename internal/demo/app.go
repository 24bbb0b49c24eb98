package demo

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	sio "github.com/spawndev/gosocketio"
	"github.com/spawndev/gosocketio/internal/config"
	"github.com/spawndev/gosocketio/internal/observability"
)

// App is the demo server: the Socket.IO server behind a gin router.
type App struct {
	Server  *sio.Server
	Router  *gin.Engine
	Counter *Counter

	registry *prometheus.Registry
}

// New builds the demo server from cfg.
func New(cfg *config.Config, logger *zap.Logger) *App {
	app := &App{Counter: &Counter{}}

	var metrics *sio.Metrics
	if cfg.Metrics {
		app.registry = prometheus.NewRegistry()
		app.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = sio.NewMetrics(sio.MetricsConfig{Registry: app.registry})
	}

	app.Server = sio.NewServer(&sio.Config{
		PingInterval: cfg.PingInterval,
		PingTimeout:  cfg.PingTimeout,
		MaxPayload:   cfg.MaxPayload,
		Path:         cfg.Path,
		AckTimeout:   cfg.AckTimeout,
		Logger:       logger.Named("sio"),
		Metrics:      metrics,
	})
	Register(app.Server, app.Counter, logger)

	app.Router = app.routes(cfg.Path, logger)
	return app
}

func (a *App) routes(path string, logger *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logger.Named("http")))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST"},
		AllowHeaders:    []string{"Origin", "Content-Type"},
		MaxAge:          12 * time.Hour,
	}))

	r.GET(strings.TrimSuffix(path, "/")+"/*any", gin.WrapH(a.Server))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"sockets": a.Server.Of("/").Len(),
		})
	})

	if a.registry != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{})))
	}
	return r
}

// Close disconnects every client.
func (a *App) Close() error {
	return a.Server.Close()
}

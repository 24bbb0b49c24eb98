package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spawndev/gosocketio/internal/demo"
)

func serveCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the demo server",
		Long: `Run the demo Socket.IO server.

Examples:
  sio-demo serve
  sio-demo serve --addr=:8080
  SIO_LOG_LEVEL=debug sio-demo serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, *configPath)
		},
	}

	cmd.Flags().StringP("addr", "a", ":3000", "Address to listen on")
	cmd.Flags().String("path", "/socket.io/", "Socket.IO endpoint path")
	cmd.Flags().Duration("ping-interval", 25*time.Second, "Engine.IO ping interval")
	cmd.Flags().Duration("ping-timeout", 20*time.Second, "Engine.IO ping timeout")
	cmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().Bool("metrics", true, "Expose /metrics")

	return cmd
}

func runServe(cmd *cobra.Command, configPath string) error {
	cfg, logger, err := loadConfig(cmd, configPath, map[string]string{
		"addr":          "addr",
		"path":          "path",
		"ping_interval": "ping-interval",
		"ping_timeout":  "ping-timeout",
		"log.level":     "log-level",
		"metrics":       "metrics",
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}

	app := demo.New(cfg, logger)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	printBanner()
	fmt.Println()
	success("Listening on %s", cfg.Addr)
	info("Socket.IO at %s", cfg.Path)
	if cfg.Metrics {
		info("Metrics at /metrics")
	}
	fmt.Println()

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_ = app.Close()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	success("Stopped")
	return nil
}

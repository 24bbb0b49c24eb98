package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/spawndev/gosocketio/internal/demo"
)

func clientCmd(configPath *string) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Run the demo client against a server",
		Long: `Connect to a demo server, print the welcome, increment and read
the counter, then fetch the weather.

Examples:
  sio-demo client
  sio-demo client --url=http://localhost:8080/`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(cmd, *configPath, timeout)
		},
	}

	cmd.Flags().StringP("url", "u", "http://localhost:3000/", "Server URL; the path selects the namespace")
	cmd.Flags().Bool("reconnection", true, "Reconnect when the connection drops")
	cmd.Flags().Duration("ack-timeout", 5*time.Second, "Acknowledgement timeout")
	cmd.Flags().String("log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Give up after this long")

	return cmd
}

func runClient(cmd *cobra.Command, configPath string, timeout time.Duration) error {
	cfg, logger, err := loadConfig(cmd, configPath, map[string]string{
		"client.url":          "url",
		"client.reconnection": "reconnection",
		"client.ack_timeout":  "ack-timeout",
		"log.level":           "log-level",
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	report, err := demo.RunClient(ctx, cfg.Client, logger)
	if err != nil {
		return err
	}

	success("%s", report.Welcome)
	info("Count %d, last changed by %s", report.Count, report.LastBy)
	for _, f := range report.Forecasts {
		info("%s %4d°C  %s", f.Date, f.TemperatureC, f.Summary)
	}
	info("Tuple: error=%v result=%v", report.TupleErr, report.TupleOK)
	fmt.Println()
	return nil
}

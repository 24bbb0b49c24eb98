package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spawndev/gosocketio/internal/config"
	"github.com/spawndev/gosocketio/internal/observability"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const banner = `
  ┌─┐┬┌─┐   ┌┬┐┌─┐┌┬┐┌─┐
  └─┐││ │ ── ││├┤ ││││ │
  └─┘┴└─┘   ─┴┘└─┘┴ ┴└─┘
`

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "sio-demo",
		Short: "Socket.IO counter and weather demo",
		Long: `sio-demo runs the Socket.IO demo server, or a client against it.

The server keeps a shared counter and serves fixed weather records:

  • welcome on connect
  • incrementCount broadcasts countChanged to every socket
  • getCount, getWeather and testTupleReturn reply through acknowledgements`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default sio-demo.yaml in . or ./configs)")

	rootCmd.AddCommand(
		serveCmd(&configPath),
		clientCmd(&configPath),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\033[31mError:\033[0m %s\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration with the named flags of cmd bound
// over file and environment values.
func loadConfig(cmd *cobra.Command, path string, flags map[string]string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(path, func(v *viper.Viper) error {
		for key, name := range flags {
			if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("setup logger: %w", err)
	}
	return cfg, logger, nil
}

// printBanner prints the ASCII art banner.
func printBanner() {
	fmt.Print(banner)
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}

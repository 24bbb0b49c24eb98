// Package config loads the demo server and client configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration of sio-demo.
type Config struct {
	// Addr the HTTP server listens on
	Addr string `mapstructure:"addr"`

	// Path the Socket.IO endpoint is served under
	Path string `mapstructure:"path"`

	PingInterval time.Duration `mapstructure:"ping_interval"`
	PingTimeout  time.Duration `mapstructure:"ping_timeout"`
	MaxPayload   int           `mapstructure:"max_payload"`

	// AckTimeout bounds server initiated acknowledgements, 0 for none
	AckTimeout time.Duration `mapstructure:"ack_timeout"`

	// Metrics exposes /metrics when set
	Metrics bool `mapstructure:"metrics"`

	Client ClientConfig `mapstructure:"client"`

	Log LogConfig `mapstructure:"log"`
}

// ClientConfig configures the demo client.
type ClientConfig struct {
	URL                  string        `mapstructure:"url"`
	Reconnection         bool          `mapstructure:"reconnection"`
	ReconnectionAttempts int           `mapstructure:"reconnection_attempts"`
	Timeout              time.Duration `mapstructure:"timeout"`
	AckTimeout           time.Duration `mapstructure:"ack_timeout"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	Rotation    RotationConfig `mapstructure:"rotation"`
	Development bool           `mapstructure:"development"`
}

// RotationConfig controls rotation of file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Addr:         ":3000",
		Path:         "/socket.io/",
		PingInterval: 25 * time.Second,
		PingTimeout:  20 * time.Second,
		MaxPayload:   1_000_000,
		Metrics:      true,
		Client: ClientConfig{
			URL:          "http://localhost:3000/",
			Reconnection: true,
			Timeout:      20 * time.Second,
			AckTimeout:   5 * time.Second,
		},
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Filename:   "logs/sio-demo.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
	}
}

// Load reads the configuration from path, or from sio-demo.{yaml,toml,json}
// in the usual places when path is empty. A missing file is not an error.
// Environment variables use the prefix SIO with "." replaced by "_", for
// example SIO_ADDR=:8080 or SIO_LOG_LEVEL=debug. bind, when non-nil, runs
// before reading so callers can attach command line flags.
func Load(path string, bind func(v *viper.Viper) error) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetEnvPrefix("SIO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v, cfg)

	if bind != nil {
		if err := bind(v); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if path == "" {
		path = os.Getenv("SIO_CONFIG")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("sio-demo")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".sio-demo"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// seed every key so env-only configs work
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("addr", cfg.Addr)
	v.SetDefault("path", cfg.Path)
	v.SetDefault("ping_interval", cfg.PingInterval)
	v.SetDefault("ping_timeout", cfg.PingTimeout)
	v.SetDefault("max_payload", cfg.MaxPayload)
	v.SetDefault("ack_timeout", cfg.AckTimeout)
	v.SetDefault("metrics", cfg.Metrics)

	v.SetDefault("client.url", cfg.Client.URL)
	v.SetDefault("client.reconnection", cfg.Client.Reconnection)
	v.SetDefault("client.reconnection_attempts", cfg.Client.ReconnectionAttempts)
	v.SetDefault("client.timeout", cfg.Client.Timeout)
	v.SetDefault("client.ack_timeout", cfg.Client.AckTimeout)

	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
}

// Validate rejects unusable values and fills in optional ones.
func (c *Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Log.Level)) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "":
		c.Log.Format = "console"
	case "console", "json":
	default:
		return fmt.Errorf("invalid log.format: %q", c.Log.Format)
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}

	if strings.TrimSpace(c.Addr) == "" {
		return errors.New("addr is required")
	}
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("invalid path %q: must start with /", c.Path)
	}
	if c.PingInterval <= 0 || c.PingTimeout <= 0 {
		return errors.New("ping_interval and ping_timeout must be positive")
	}
	if c.MaxPayload <= 0 {
		return fmt.Errorf("invalid max_payload: %d", c.MaxPayload)
	}
	if c.AckTimeout < 0 || c.Client.AckTimeout < 0 {
		return errors.New("ack timeouts cannot be negative")
	}
	if c.Client.ReconnectionAttempts < 0 {
		return fmt.Errorf("invalid client.reconnection_attempts: %d", c.Client.ReconnectionAttempts)
	}
	return nil
}

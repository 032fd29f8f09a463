// Package config loads ingestor configuration from an optional YAML file
// with INGESTOR_* environment variables layered on top, mirroring the
// original Rust binary's config crate Environment::with_prefix("INGESTOR").
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config is the top-level ingestor configuration. Maps directly onto the
// YAML file structure; every field is also settable via an INGESTOR_*
// environment variable (nested keys join with "_").
type Config struct {
	Sink             SinkConfig    `mapstructure:"sink"`
	Metrics          MetricsConfig `mapstructure:"metrics"`
	Canon            CanonConfig   `mapstructure:"canon"`
	MaxReconnectSecs int           `mapstructure:"max_reconnect_secs"`
}

// SinkConfig selects and configures the output sink.
type SinkConfig struct {
	Kind       string `mapstructure:"kind"` // "stdout", "file", or "bus"
	FilePath   string `mapstructure:"file_path"`
	BusBrokers string `mapstructure:"bus_brokers"`
	BusTopic   string `mapstructure:"bus_topic"`
}

// MetricsConfig controls the Prometheus HTTP surface.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// CanonConfig configures the symbol canonicalizer's Binance quote-asset
// discovery.
type CanonConfig struct {
	BinanceQuotes      string `mapstructure:"binance_quotes"`
	AcceptInvalidCerts bool   `mapstructure:"accept_invalid_certs"`
}

// Defaults applied before a config file or environment variables are read.
func defaults(v *viper.Viper) {
	v.SetDefault("sink.kind", "stdout")
	v.SetDefault("sink.file_path", "")
	v.SetDefault("sink.bus_brokers", "")
	v.SetDefault("sink.bus_topic", "")
	v.SetDefault("metrics.listen_addr", ":9090")
	v.SetDefault("canon.binance_quotes", "")
	v.SetDefault("canon.accept_invalid_certs", false)
	v.SetDefault("max_reconnect_secs", 60)
}

// Load reads config from an optional YAML file at path (skipped entirely
// if path is empty or the file does not exist) with INGESTOR_* environment
// variables overriding any value, including ones the file never set.
func Load(path string) (*Config, error) {
	v := viper.New()
	defaults(v)

	v.SetEnvPrefix("INGESTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, statErr := os.Stat(path); statErr == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// BINANCE_QUOTES and BINANCE_ACCEPT_INVALID_CERTS are the original
	// binary's own unprefixed env vars (shared with the canonicalizer
	// child process); they take precedence over the INGESTOR_CANON_*
	// equivalents when set, since both processes must agree on them.
	_ = v.BindEnv("binance_quotes", "BINANCE_QUOTES")
	_ = v.BindEnv("binance_accept_invalid_certs", "BINANCE_ACCEPT_INVALID_CERTS")
	if q := v.GetString("binance_quotes"); q != "" {
		cfg.Canon.BinanceQuotes = q
	}
	if v.IsSet("binance_accept_invalid_certs") {
		cfg.Canon.AcceptInvalidCerts = v.GetBool("binance_accept_invalid_certs")
	}

	return &cfg, nil
}

// Validate checks required fields given the flags that accompany sink
// selection on the CLI.
func (c *Config) Validate() error {
	switch c.Sink.Kind {
	case "stdout":
	case "file":
		if c.Sink.FilePath == "" {
			return fmt.Errorf("sink.file_path is required when sink.kind is \"file\"")
		}
	case "bus":
		if c.Sink.BusBrokers == "" {
			return fmt.Errorf("sink.bus_brokers is required when sink.kind is \"bus\"")
		}
		if c.Sink.BusTopic == "" {
			return fmt.Errorf("sink.bus_topic is required when sink.kind is \"bus\"")
		}
	default:
		return fmt.Errorf("sink.kind must be one of: stdout, file, bus (got %q)", c.Sink.Kind)
	}
	return nil
}

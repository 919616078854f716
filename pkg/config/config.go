package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel  string          `yaml:"log_level" default:"info"`
	Scan      ScanConfig      `yaml:"scan"`
	Protocol  ProtocolConfig  `yaml:"protocol"`
	Transport TransportConfig `yaml:"transport"`
	RPC       RPCConfig       `yaml:"rpc"`
}

// ScanConfig controls device discovery.
type ScanConfig struct {
	// VendorMarker must appear in a device name for it to be reported.
	VendorMarker    string        `yaml:"vendor_marker" default:"GMSync"`
	AllowDuplicates bool          `yaml:"allow_duplicates" default:"true"`
	Duration        time.Duration `yaml:"duration" default:"10s"`
}

// ProtocolConfig describes the vendor GATT layout and command timing.
type ProtocolConfig struct {
	ServiceUUID       string        `yaml:"service_uuid" default:"0000b3a0-0000-1000-8000-00805f9b34fb"`
	NotifyUUID        string        `yaml:"notify_uuid" default:"0000b3a1-0000-1000-8000-00805f9b34fb"`
	WriteUUID         string        `yaml:"write_uuid" default:"0000b3a2-0000-1000-8000-00805f9b34fb"`
	CommandDelay      time.Duration `yaml:"command_delay" default:"200ms"`
	SubscribeDelay    time.Duration `yaml:"subscribe_delay" default:"300ms"`
	KeepUnknownFrames bool          `yaml:"keep_unknown_frames"`
}

// TransportConfig bounds transport round-trips.
type TransportConfig struct {
	Timeout     time.Duration `yaml:"timeout" default:"10s"`
	SettleDelay time.Duration `yaml:"settle_delay" default:"500ms"`
}

// RPCConfig configures the bridging server.
type RPCConfig struct {
	Codec   string `yaml:"codec" default:"json"`
	Workers int    `yaml:"workers" default:"4"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	return cfg
}

// Load reads a YAML file over the defaults. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.Scan.VendorMarker == "" {
		return errors.New("scan.vendor_marker must not be empty")
	}
	for name, d := range map[string]time.Duration{
		"protocol.command_delay":   c.Protocol.CommandDelay,
		"protocol.subscribe_delay": c.Protocol.SubscribeDelay,
		"transport.settle_delay":   c.Transport.SettleDelay,
	} {
		if d < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if c.Transport.Timeout <= 0 {
		return errors.New("transport.timeout must be positive")
	}
	switch strings.ToLower(c.RPC.Codec) {
	case "json", "cbor":
	default:
		return fmt.Errorf("rpc.codec %q is not one of json, cbor", c.RPC.Codec)
	}
	if c.RPC.Workers < 1 {
		return errors.New("rpc.workers must be at least 1")
	}
	return nil
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() logrus.Level {
	lvl, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return lvl
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

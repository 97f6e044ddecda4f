// Package config holds the service configuration: transport, pipeline,
// output, and archive settings loaded from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yairfalse/auditstream/pkg/output"
	"github.com/yairfalse/auditstream/pkg/pipeline"
	"github.com/yairfalse/auditstream/pkg/transport"
)

// Config is the full service configuration.
type Config struct {
	Transport TransportConfig `yaml:"transport"`
	Pipeline  pipeline.Config `yaml:"pipeline"`
	Output    OutputConfig    `yaml:"output"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// TransportConfig holds the live capture settings.
type TransportConfig struct {
	Netlink transport.NetlinkConfig `yaml:"netlink"`
}

// OutputConfig selects where finished events go and how they are
// rendered.
type OutputConfig struct {
	// Format selects the file renderer: "legacy" or "json".
	Format string `yaml:"format"`

	// Path is the output file; empty or "-" writes to stdout.
	Path string `yaml:"path"`

	// NATS configures the JetStream sink, enabled when URL is set.
	NATS output.NATSConfig `yaml:"nats"`
}

// ArchiveConfig holds the SQLite event archive settings.
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logger construction settings.
type LoggingConfig struct {
	// Level is a zap level name: debug, info, warn or error.
	Level string `yaml:"level"`

	// Development switches to the human readable console encoder.
	Development bool `yaml:"development"`
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig() *Config {
	return &Config{
		Transport: TransportConfig{
			Netlink: transport.NetlinkConfig{
				Enable:        true,
				ReceiveBuffer: 1024 * 1024,
			},
		},
		Pipeline: pipeline.DefaultConfig(),
		Output: OutputConfig{
			Format: "legacy",
			Path:   "-",
			NATS:   output.DefaultNATSConfig(),
		},
		Archive: ArchiveConfig{
			Path: "auditstream.db",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the YAML file at path over the defaults, overlays
// environment variables, and validates the result. An empty path skips
// the file and returns defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays AUDITSTREAM_* environment variables on the config.
// Unset or unparseable variables leave the current value in place.
func (c *Config) ApplyEnv() {
	c.Transport.Netlink.Enable = getEnvBool("AUDITSTREAM_AUDIT_ENABLE", c.Transport.Netlink.Enable)
	c.Transport.Netlink.ReceiveBuffer = getEnvInt("AUDITSTREAM_RECEIVE_BUFFER", c.Transport.Netlink.ReceiveBuffer)

	c.Pipeline.StrictParsing = getEnvBool("AUDITSTREAM_STRICT_PARSING", c.Pipeline.StrictParsing)
	c.Pipeline.Correlator.EventTimeout = getEnvDuration("AUDITSTREAM_EVENT_TIMEOUT", c.Pipeline.Correlator.EventTimeout)
	c.Pipeline.Correlator.SweepInterval = getEnvDuration("AUDITSTREAM_SWEEP_INTERVAL", c.Pipeline.Correlator.SweepInterval)

	c.Output.Format = getEnv("AUDITSTREAM_OUTPUT_FORMAT", c.Output.Format)
	c.Output.Path = getEnv("AUDITSTREAM_OUTPUT_PATH", c.Output.Path)
	c.Output.NATS.URL = getEnv("AUDITSTREAM_NATS_URL", c.Output.NATS.URL)
	c.Output.NATS.StreamName = getEnv("AUDITSTREAM_NATS_STREAM", c.Output.NATS.StreamName)

	c.Archive.Enabled = getEnvBool("AUDITSTREAM_ARCHIVE_ENABLED", c.Archive.Enabled)
	c.Archive.Path = getEnv("AUDITSTREAM_ARCHIVE_PATH", c.Archive.Path)

	c.Logging.Level = getEnv("AUDITSTREAM_LOG_LEVEL", c.Logging.Level)
	c.Logging.Development = getEnvBool("AUDITSTREAM_LOG_DEVELOPMENT", c.Logging.Development)
}

// Validate checks the configuration for values no component accepts.
func (c *Config) Validate() error {
	if _, err := c.Output.Renderer(); err != nil {
		return err
	}
	if c.Archive.Enabled && c.Archive.Path == "" {
		return fmt.Errorf("archive enabled but no database path set")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	return c.Pipeline.Validate()
}

// Renderer returns the renderer selected by Format.
func (o OutputConfig) Renderer() (output.Renderer, error) {
	switch o.Format {
	case "legacy":
		return output.LegacyRenderer{}, nil
	case "json":
		return output.JSONRenderer{}, nil
	default:
		return nil, fmt.Errorf("unknown output format %q", o.Format)
	}
}

// Helper functions for environment variable parsing.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

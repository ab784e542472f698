package server

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/signadot/adcoll/system/collectd/api"
)

// DefaultListen is the address collectd listens on when none is given.
const DefaultListen = "localhost:9618"

// Config represents the collectd configuration file structure.
type Config struct {
	// Listen is the TCP address to serve on.
	Listen string `yaml:"listen"`

	// Sync fsyncs the log after each append.
	Sync bool `yaml:"sync"`

	// MaxSessions caps concurrently connected clients. Zero means no cap.
	MaxSessions int `yaml:"maxSessions"`

	// Checkpoint configures when the log is rewritten.
	Checkpoint *CheckpointConfig `yaml:"checkpoint"`
}

// CheckpointConfig configures log checkpointing.
type CheckpointConfig struct {
	// MaxEntries triggers a checkpoint once this many entries have been
	// appended since the last one. Zero disables.
	MaxEntries int64 `yaml:"maxEntries"`

	// Interval checkpoints periodically. Zero disables.
	Interval api.Duration `yaml:"interval"`
}

// LoadConfig loads a YAML configuration file. Settings missing from the
// file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen: DefaultListen,
		Sync:   true,
		Checkpoint: &CheckpointConfig{
			MaxEntries: 1000,
			Interval:   api.Duration(10 * time.Minute),
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is empty")
	}
	if c.MaxSessions < 0 {
		return fmt.Errorf("maxSessions must not be negative, got %d", c.MaxSessions)
	}
	if cp := c.Checkpoint; cp != nil {
		if cp.MaxEntries < 0 {
			return fmt.Errorf("checkpoint.maxEntries must not be negative, got %d", cp.MaxEntries)
		}
		if cp.Interval < 0 {
			return fmt.Errorf("checkpoint.interval must not be negative, got %s", time.Duration(cp.Interval))
		}
	}
	return nil
}

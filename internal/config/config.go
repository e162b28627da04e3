// Package config provides configuration loading and validation for the
// relay receiver.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/relaykit/snapshot-relay/internal/validate"
)

// EnvPrefix is the prefix for environment variables bound via viper
// (e.g. RELAY_LOG_LEVEL). The LOCAL and SERVER addresses are bound
// without the prefix; they are the documented contract with operators.
const EnvPrefix = "RELAY"

const (
	// DefaultSampleInterval is the change-detection sampling interval
	// used when none is configured.
	DefaultSampleInterval = 500 * time.Millisecond

	// DefaultRegisterTimeout bounds the outbound registration call
	// when no timeout is configured.
	DefaultRegisterTimeout = 10 * time.Second
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		// Validate the path to prevent path traversal attacks
		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure. Both addresses
// are optional: when either is missing or invalid at startup, the
// receiver starts Unbound and the binding flow must be completed
// through the bind endpoint before the system is operational.
type Config struct {
	// LocalAddress is this receiver's externally reachable base
	// address, registered with the coordinator so it knows where to
	// send future data.
	LocalAddress string `yaml:"localAddress,omitempty"`

	// ServerAddress is the coordinator's base address.
	ServerAddress string `yaml:"serverAddress,omitempty"`

	// SampleInterval is the change-detection sampling interval
	// (e.g. "500ms").
	SampleInterval string `yaml:"sampleInterval,omitempty"`

	// RegisterTimeout bounds the outbound registration call
	// (e.g. "10s").
	RegisterTimeout string `yaml:"registerTimeout,omitempty"`

	// Metrics controls the Prometheus metrics endpoint.
	Metrics *MetricsConfig `yaml:"metrics,omitempty"`

	// Durations parsed once during validation.
	sampleInterval  time.Duration
	registerTimeout time.Duration
}

// MetricsConfig defines metric collection settings
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LoadConfig loads and parses configuration. Without WithConfigPath it
// returns an empty, valid configuration; addresses can then be supplied
// through flags or the LOCAL and SERVER environment variables.
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	var config Config
	if loaderCfg.path != "" {
		data, err := os.ReadFile(loaderCfg.path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// HasAddresses reports whether both addresses are configured, i.e. an
// initial bind attempt can be made at startup.
func (c *Config) HasAddresses() bool {
	return c.LocalAddress != "" && c.ServerAddress != ""
}

// MetricsEnabled reports whether metric collection is on. Metrics
// default to enabled when the section is absent.
func (c *Config) MetricsEnabled() bool {
	if c.Metrics == nil {
		return true
	}
	return c.Metrics.Enabled
}

// GetSampleInterval returns the sampling interval parsed during
// validation, or the default when none was configured.
func (c *Config) GetSampleInterval() time.Duration {
	if c.sampleInterval > 0 {
		return c.sampleInterval
	}
	return DefaultSampleInterval
}

// GetRegisterTimeout returns the registration timeout parsed during
// validation, or the default when none was configured.
func (c *Config) GetRegisterTimeout() time.Duration {
	if c.registerTimeout > 0 {
		return c.registerTimeout
	}
	return DefaultRegisterTimeout
}

// validate checks the configuration and parses the duration fields.
// Durations are parsed exactly once here, so a value that survives
// loading is never silently replaced later.
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	// Addresses are optional at startup, but a configured address must
	// be a valid absolute URL.
	if c.LocalAddress != "" {
		if err := validate.URL(c.LocalAddress); err != nil {
			return fmt.Errorf("localAddress: %w", err)
		}
	}
	if c.ServerAddress != "" {
		if err := validate.URL(c.ServerAddress); err != nil {
			return fmt.Errorf("serverAddress: %w", err)
		}
	}

	var err error
	if c.sampleInterval, err = parseInterval(c.SampleInterval, "sampleInterval"); err != nil {
		return err
	}
	c.registerTimeout, err = parseInterval(c.RegisterTimeout, "registerTimeout")
	return err
}

// parseInterval parses a duration field, returning 0 when absent.
func parseInterval(value, field string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid duration (e.g. '500ms', '10s'): %w", field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", field)
	}
	return d, nil
}

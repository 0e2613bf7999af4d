// Package config loads the server configuration from YAML.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sanonone/lattice/pkg/lattice"
)

// Duration is a time.Duration that decodes from "10m"-style strings in YAML
// and JSON, and from plain numbers (nanoseconds) in JSON.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	tmp, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*d = Duration(tmp)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalJSON handles both numbers (nanoseconds) and strings ("10s").
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		tmp, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*d = Duration(tmp)
		return nil
	default:
		return fmt.Errorf("invalid duration")
	}
}

// MarshalJSON serializes the duration back to a readable string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// RateLimit bounds requests per client IP on the HTTP API. Zero
// RequestsPerSecond disables limiting.
type RateLimit struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// Config is the top-level server configuration.
type Config struct {
	DataDir  string `yaml:"data_dir"`
	HTTPAddr string `yaml:"http_addr"`

	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // text, json

	// MaintenanceInterval is how often the maintenance tick runs. 0 disables
	// the built-in scheduler.
	MaintenanceInterval Duration `yaml:"maintenance_interval"`

	// AuthToken, when set, is required as a Bearer token on every API call
	// except /healthz and /metrics.
	AuthToken string    `yaml:"auth_token"`
	RateLimit RateLimit `yaml:"rate_limit"`

	Lattice lattice.Config `yaml:"lattice"`
}

// DefaultConfig returns a configuration that works out of the box.
func DefaultConfig() Config {
	return Config{
		DataDir:             "./lattice_data",
		HTTPAddr:            ":9191",
		LogLevel:            "info",
		LogFormat:           "text",
		MaintenanceInterval: Duration(10 * time.Minute),
		RateLimit:           RateLimit{RequestsPerSecond: 0, Burst: 50},
		Lattice:             lattice.DefaultConfig(),
	}
}

// LoadConfig reads the YAML file at path over the defaults, using strict
// parsing so unknown keys are rejected. Environment variables (${VAR}) are
// expanded first. An empty path returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("could not read configuration file '%s': %w", path, err)
	}

	decoder := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(data))))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("YAML syntax error in '%s': %w", path, err)
	}
	cfg.Lattice.ApplyAliases()

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration in '%s': %w", path, err)
	}
	return cfg, nil
}

// Validate checks the server-level fields and the lattice section.
func (c Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log_format %q", c.LogFormat)
	}
	if c.MaintenanceInterval < 0 {
		return fmt.Errorf("maintenance_interval must not be negative")
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate_limit values must not be negative")
	}
	return c.Lattice.Validate()
}

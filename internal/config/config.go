// Package config handles ingestion-engine configuration loading: a
// YAML file for non-secret tuning knobs, with secrets and the storage
// DSN supplied via environment variables (spec.md §6.3).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// searchPathsFunc is overridden in tests to avoid finding real config
// files on developer/deploy machines.
var searchPathsFunc = DefaultSearchPaths

// DefaultSearchPaths returns the config file search order. An explicit
// path (from -config or CONFIG_FILE) is checked first by FindConfig.
// Then: ./config.yaml, ~/.config/ingestd/config.yaml, /config/config.yaml,
// /etc/ingestd/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "ingestd", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // container convention
	paths = append(paths, "/etc/ingestd/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must
// exist. Otherwise, searches searchPathsFunc() and returns the first
// path that exists. A missing CONFIG_FILE is not an error by itself;
// callers that don't require a config file should treat a FindConfig
// error as "use defaults", which cmd/ingestd does.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range searchPathsFunc() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPathsFunc())
}

// Config holds the engine's non-secret tuning knobs. The storage DSN
// is read from the environment (DATABASE_URL) rather than this file,
// so that secrets never need to live in a checked-in YAML document.
// LogLevel comes from log_level here; cmd/ingestd lets the LOG_LEVEL
// environment variable, when set, take precedence over it.
type Config struct {
	Supervisor  SupervisorConfig  `yaml:"supervisor"`
	WSListener  WSListenerConfig  `yaml:"ws_listener"`
	HTTPFetch   HTTPFetchConfig   `yaml:"http_fetch"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`
	LogLevel    string            `yaml:"log_level"`
}

// SupervisorConfig tunes the supervisor tick loop (spec.md §4.7).
type SupervisorConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
}

// WSListenerConfig tunes the WebSocket listener (spec.md §4.4).
type WSListenerConfig struct {
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	InitialBackoff      time.Duration `yaml:"initial_backoff"`
	MaxBackoff          time.Duration `yaml:"max_backoff"`
}

// HTTPFetchConfig tunes the fetch-and-parse pipeline (spec.md §4.3).
type HTTPFetchConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes"`
}

// DiagnosticsConfig controls the read-only diagnostics HTTP surface
// (spec.md §6.2 addition). Disabled by default.
type DiagnosticsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // bind address; default ":9090" when enabled
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates the
// result. After Load returns successfully, all fields are usable
// without additional nil/empty checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g. ${DATABASE_URL}) for
	// convenience in container deployments.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
// Called automatically by Load and by Default.
func (c *Config) applyDefaults() {
	if c.Supervisor.TickInterval <= 0 {
		c.Supervisor.TickInterval = 10 * time.Second
	}
	if c.WSListener.HealthCheckInterval <= 0 {
		c.WSListener.HealthCheckInterval = 30 * time.Second
	}
	if c.WSListener.InitialBackoff <= 0 {
		c.WSListener.InitialBackoff = 1 * time.Second
	}
	if c.WSListener.MaxBackoff <= 0 {
		c.WSListener.MaxBackoff = 60 * time.Second
	}
	if c.HTTPFetch.Timeout <= 0 {
		c.HTTPFetch.Timeout = 20 * time.Second
	}
	if c.HTTPFetch.MaxBodyBytes <= 0 {
		c.HTTPFetch.MaxBodyBytes = 2 * 1024 * 1024
	}
	if c.Diagnostics.Enabled && c.Diagnostics.Address == "" {
		c.Diagnostics.Address = ":9090"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks that the configuration is internally consistent. It
// runs after applyDefaults, so it can assume defaults are populated.
// Returns an error describing the first problem found, or nil.
func (c *Config) Validate() error {
	if c.Supervisor.TickInterval <= 0 {
		return fmt.Errorf("supervisor.tick_interval must be positive")
	}
	if c.WSListener.InitialBackoff > c.WSListener.MaxBackoff {
		return fmt.Errorf("ws_listener.initial_backoff must not exceed max_backoff")
	}
	if c.HTTPFetch.MaxBodyBytes <= 0 {
		return fmt.Errorf("http_fetch.max_body_bytes must be positive")
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Default returns a default configuration with all defaults applied,
// suitable for running the engine with no YAML file present.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

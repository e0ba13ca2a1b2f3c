// Package config loads the bridge host configuration from an optional YAML
// file with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	bridgeerrors "github.com/exiv-ai/scriptbridge/pkg/errors"
)

// Default configuration values exported for documentation and validation
const (
	DefaultMethodTimeoutSecs = 8
	DefaultScriptDir         = "scripts"
	DefaultLogLevel          = "info"
)

// Environment variables recognized by the bridge. BRIDGE_METHOD_TIMEOUT_SECS
// is the one setting the protocol contract requires; the rest are host
// conveniences.
const (
	EnvMethodTimeoutSecs = "BRIDGE_METHOD_TIMEOUT_SECS"
	EnvScriptDir         = "BRIDGE_SCRIPT_DIR"
	EnvLogLevel          = "BRIDGE_LOG_LEVEL"
	EnvMetricsListen     = "BRIDGE_METRICS_LISTEN"
	EnvStrategy          = "BRIDGE_EXECUTION_STRATEGY"
)

// Config represents the complete bridge configuration
type Config struct {
	Script    ScriptConfig    `yaml:"script"`
	Execution ExecutionConfig `yaml:"execution"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ScriptConfig controls script loading
type ScriptConfig struct {
	// Dir is the allowed base directory; scripts resolving outside it
	// are rejected before being opened.
	Dir string `yaml:"dir"`
}

// ExecutionConfig controls method invocation
type ExecutionConfig struct {
	// MethodTimeoutSecs is the default per-method wall-clock timeout.
	MethodTimeoutSecs int `yaml:"method_timeout_secs"`
	// Strategy forces a timeout strategy ("preemptive" or "watchdog");
	// empty selects the platform default.
	Strategy string `yaml:"strategy"`
}

// LoggingConfig controls the diagnostic channel
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// MetricsConfig controls the optional prometheus endpoint
type MetricsConfig struct {
	// Listen is a host:port for the metrics HTTP listener; empty
	// disables it.
	Listen string `yaml:"listen"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Script: ScriptConfig{
			Dir: DefaultScriptDir,
		},
		Execution: ExecutionConfig{
			MethodTimeoutSecs: DefaultMethodTimeoutSecs,
		},
		Logging: LoggingConfig{
			Level: DefaultLogLevel,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file if path is
// non-empty, then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, bridgeerrors.Wrapf(err, bridgeerrors.ErrCodeConfigInvalid, "reading config file %s", path)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, bridgeerrors.Wrapf(err, bridgeerrors.ErrCodeConfigInvalid, "parsing config file %s", path)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// applyEnv overrides config values from the environment
func applyEnv(cfg *Config) error {
	if v := os.Getenv(EnvMethodTimeoutSecs); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return bridgeerrors.Wrapf(err, bridgeerrors.ErrCodeConfigInvalid, "%s must be an integer", EnvMethodTimeoutSecs)
		}
		cfg.Execution.MethodTimeoutSecs = secs
	}
	if v := os.Getenv(EnvScriptDir); v != "" {
		cfg.Script.Dir = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv(EnvMetricsListen); v != "" {
		cfg.Metrics.Listen = v
	}
	if v := os.Getenv(EnvStrategy); v != "" {
		cfg.Execution.Strategy = v
	}
	return nil
}

// MethodTimeout returns the per-method timeout as a duration.
func (c Config) MethodTimeout() time.Duration {
	return time.Duration(c.Execution.MethodTimeoutSecs) * time.Second
}

// Validate checks configuration invariants
func (c Config) Validate() error {
	if c.Execution.MethodTimeoutSecs <= 0 {
		return bridgeerrors.Newf(bridgeerrors.ErrCodeConfigInvalid,
			"method timeout must be positive, got %d", c.Execution.MethodTimeoutSecs)
	}
	if c.Script.Dir == "" {
		return bridgeerrors.New(bridgeerrors.ErrCodeConfigInvalid, "script dir must not be empty")
	}
	switch c.Execution.Strategy {
	case "", "preemptive", "watchdog":
	default:
		return bridgeerrors.Newf(bridgeerrors.ErrCodeConfigInvalid,
			"unknown execution strategy %q", c.Execution.Strategy)
	}
	return nil
}

// String renders the effective config for startup diagnostics.
func (c Config) String() string {
	return fmt.Sprintf("script.dir=%s execution.timeout=%ds execution.strategy=%q logging.level=%s metrics.listen=%q",
		c.Script.Dir, c.Execution.MethodTimeoutSecs, c.Execution.Strategy, c.Logging.Level, c.Metrics.Listen)
}

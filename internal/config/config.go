package config

import (
	"fmt"
	"os"
	"time"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "EVBRIDGE_"

// Config holds all evbridge settings.
type Config struct {
	Jobs    JobsConfig    `toml:"jobs" yaml:"jobs"`
	Input   InputConfig   `toml:"input" yaml:"input"`
	Loop    LoopConfig    `toml:"loop" yaml:"loop"`
	Log     LogConfig     `toml:"log" yaml:"log"`
	Metrics MetricsConfig `toml:"metrics" yaml:"metrics"`
	Script  ScriptConfig  `toml:"script" yaml:"script"`
}

// JobsConfig configures the job manager.
type JobsConfig struct {
	// MaxJobs is the size of the job table.
	MaxJobs int `toml:"max_jobs" yaml:"max_jobs"`
	// BufferSize is the capacity of each stdout/stderr buffer in bytes.
	BufferSize int `toml:"buffer_size" yaml:"buffer_size"`
	// GracePeriod is the SIGTERM-to-SIGKILL delay for stopped jobs.
	GracePeriod Duration `toml:"grace_period" yaml:"grace_period"`
	// ShutdownGrace is the SIGTERM-to-SIGKILL delay at exit.
	ShutdownGrace Duration `toml:"shutdown_grace" yaml:"shutdown_grace"`
}

// InputConfig configures host input.
type InputConfig struct {
	// Backend selects the reader: "tty" or "tcell".
	Backend string `toml:"backend" yaml:"backend"`
	// Slice bounds each read attempt and each loop wait.
	Slice Duration `toml:"slice" yaml:"slice"`
	// RetryDelay is the poller's pause between empty attempts.
	RetryDelay Duration `toml:"retry_delay" yaml:"retry_delay"`
	// HandshakeTimeout bounds the arm/ack exchange.
	HandshakeTimeout Duration `toml:"handshake_timeout" yaml:"handshake_timeout"`
}

// LoopConfig configures the event loop.
type LoopConfig struct {
	// IdleTimeout is the quiet period before an Idle event. Zero disables it.
	IdleTimeout Duration `toml:"idle_timeout" yaml:"idle_timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

// MetricsConfig configures the metrics endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `toml:"addr" yaml:"addr"`
}

// ScriptConfig configures the Lua script.
type ScriptConfig struct {
	Path string `toml:"path" yaml:"path"`
}

// Input backends.
const (
	BackendTTY   = "tty"
	BackendTcell = "tcell"
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Jobs: JobsConfig{
			MaxJobs:       5,
			BufferSize:    4096,
			GracePeriod:   Duration(2500 * time.Millisecond),
			ShutdownGrace: Duration(300 * time.Millisecond),
		},
		Input: InputConfig{
			Backend:          BackendTTY,
			Slice:            Duration(100 * time.Millisecond),
			RetryDelay:       Duration(10 * time.Millisecond),
			HandshakeTimeout: Duration(time.Second),
		},
		Loop: LoopConfig{
			IdleTimeout: Duration(4 * time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds a configuration from defaults, the file at path (if path is
// not empty) and EVBRIDGE_* environment variables, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := NewEnvLoader(EnvPrefix).Apply(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the runtime cannot use.
func (c *Config) Validate() error {
	positiveInt := func(path string, v int) error {
		if v <= 0 {
			return &ValidationError{Path: path, Message: "must be positive", Value: v}
		}
		return nil
	}
	positiveDur := func(path string, v Duration) error {
		if v <= 0 {
			return &ValidationError{Path: path, Message: "must be positive", Value: v}
		}
		return nil
	}

	checks := []error{
		positiveInt("jobs.max_jobs", c.Jobs.MaxJobs),
		positiveInt("jobs.buffer_size", c.Jobs.BufferSize),
		positiveDur("jobs.grace_period", c.Jobs.GracePeriod),
		positiveDur("jobs.shutdown_grace", c.Jobs.ShutdownGrace),
		positiveDur("input.slice", c.Input.Slice),
		positiveDur("input.retry_delay", c.Input.RetryDelay),
		positiveDur("input.handshake_timeout", c.Input.HandshakeTimeout),
	}
	for _, err := range checks {
		if err != nil {
			return err
		}
	}

	if c.Loop.IdleTimeout < 0 {
		return &ValidationError{Path: "loop.idle_timeout", Message: "must not be negative", Value: c.Loop.IdleTimeout}
	}
	switch c.Input.Backend {
	case BackendTTY, BackendTcell:
	default:
		return &ValidationError{Path: "input.backend", Message: "must be tty or tcell", Value: c.Input.Backend}
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return &ValidationError{Path: "log.format", Message: "must be text or json", Value: c.Log.Format}
	}
	if c.Script.Path != "" {
		if _, err := os.Stat(c.Script.Path); err != nil {
			return &ValidationError{Path: "script.path", Message: fmt.Sprintf("not readable: %v", err), Value: c.Script.Path}
		}
	}
	return nil
}

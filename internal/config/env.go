package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// EnvLoader applies environment variable overrides.
type EnvLoader struct {
	prefix string // Environment variable prefix (e.g., "EVBRIDGE_")
	lookup func(string) (string, bool)
}

// NewEnvLoader creates a loader reading the process environment.
// The prefix should include the trailing underscore.
func NewEnvLoader(prefix string) *EnvLoader {
	return &EnvLoader{prefix: prefix, lookup: os.LookupEnv}
}

// NewEnvLoaderWithLookup creates a loader over a custom lookup, for tests
// and embedders.
func NewEnvLoaderWithLookup(prefix string, lookup func(string) (string, bool)) *EnvLoader {
	return &EnvLoader{prefix: prefix, lookup: lookup}
}

type setter func(c *Config, value string) error

// envSettings maps variable suffixes to settings. The suffix is the
// dotted setting path upper-cased with dots replaced by underscores.
var envSettings = map[string]setter{
	"JOBS_MAX_JOBS":           intSetter(func(c *Config) *int { return &c.Jobs.MaxJobs }),
	"JOBS_BUFFER_SIZE":        intSetter(func(c *Config) *int { return &c.Jobs.BufferSize }),
	"JOBS_GRACE_PERIOD":       durSetter(func(c *Config) *Duration { return &c.Jobs.GracePeriod }),
	"JOBS_SHUTDOWN_GRACE":     durSetter(func(c *Config) *Duration { return &c.Jobs.ShutdownGrace }),
	"INPUT_BACKEND":           strSetter(func(c *Config) *string { return &c.Input.Backend }),
	"INPUT_SLICE":             durSetter(func(c *Config) *Duration { return &c.Input.Slice }),
	"INPUT_RETRY_DELAY":       durSetter(func(c *Config) *Duration { return &c.Input.RetryDelay }),
	"INPUT_HANDSHAKE_TIMEOUT": durSetter(func(c *Config) *Duration { return &c.Input.HandshakeTimeout }),
	"LOOP_IDLE_TIMEOUT":       durSetter(func(c *Config) *Duration { return &c.Loop.IdleTimeout }),
	"LOG_LEVEL":               strSetter(func(c *Config) *string { return &c.Log.Level }),
	"LOG_FORMAT":              strSetter(func(c *Config) *string { return &c.Log.Format }),
	"METRICS_ADDR":            strSetter(func(c *Config) *string { return &c.Metrics.Addr }),
	"SCRIPT_PATH":             strSetter(func(c *Config) *string { return &c.Script.Path }),
}

// Variables returns the recognized variable names, sorted.
func (l *EnvLoader) Variables() []string {
	names := make([]string, 0, len(envSettings))
	for suffix := range envSettings {
		names = append(names, l.prefix+suffix)
	}
	sort.Strings(names)
	return names
}

// Apply overlays every set variable onto c.
// Note: Empty string values are treated as valid values, not as unset.
func (l *EnvLoader) Apply(c *Config) error {
	for _, name := range l.Variables() {
		val, ok := l.lookup(name)
		if !ok {
			continue
		}
		set := envSettings[strings.TrimPrefix(name, l.prefix)]
		if err := set(c, val); err != nil {
			return &ParseError{Path: "env:" + name, Message: err.Error(), Err: err}
		}
	}
	return nil
}

func intSetter(field func(*Config) *int) setter {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("not an integer: %q", v)
		}
		*field(c) = n
		return nil
	}
}

func durSetter(field func(*Config) *Duration) setter {
	return func(c *Config, v string) error {
		return field(c).UnmarshalText([]byte(strings.TrimSpace(v)))
	}
}

func strSetter(field func(*Config) *string) setter {
	return func(c *Config, v string) error {
		*field(c) = v
		return nil
	}
}

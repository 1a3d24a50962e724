package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// envPrefix namespaces every environment variable (RODEO_PORT, ...).
const envPrefix = "rodeo"

// Duration wraps time.Duration so both envconfig and TOML decode it from
// strings like "5s".
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds all application configuration.
type Config struct {
	Server       ServerConfig       `toml:"server"`
	Kernel       KernelConfig       `toml:"kernel"`
	Session      SessionConfig      `toml:"session"`
	Artifacts    ArtifactsConfig    `toml:"artifacts"`
	History      HistoryConfig      `toml:"history"`
	Interpreters InterpretersConfig `toml:"interpreters"`
	Terminal     TerminalConfig     `toml:"terminal"`
	Logging      LogConfig          `toml:"logging"`
	RateLimit    RateLimitConfig    `toml:"rate_limit"`
}

// ServerConfig holds HTTP server configuration. The backend serves a local
// GUI, so it binds loopback by default.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8811" toml:"port"`
	Host string `envconfig:"HOST" default:"127.0.0.1" toml:"host"`
}

// KernelConfig bounds kernel subprocess lifecycle.
type KernelConfig struct {
	StartupTimeout Duration `envconfig:"KERNEL_STARTUP_TIMEOUT" default:"30s" toml:"startup_timeout"`
	KillGrace      Duration `envconfig:"KERNEL_KILL_GRACE" default:"3s" toml:"kill_grace"`
	EventBuffer    int      `envconfig:"KERNEL_EVENT_BUFFER" default:"256" toml:"event_buffer"`
	MaxLineBytes   int      `envconfig:"KERNEL_MAX_LINE_BYTES" default:"33554432" toml:"max_line_bytes"`
}

// SessionConfig holds session manager configuration.
type SessionConfig struct {
	// CompleteTimeout bounds autocomplete round-trips. On expiry the call
	// fails and the kernel-side request is abandoned, not cancelled.
	CompleteTimeout  Duration `envconfig:"SESSION_COMPLETE_TIMEOUT" default:"5s" toml:"complete_timeout"`
	SubscriberBuffer int      `envconfig:"SESSION_SUBSCRIBER_BUFFER" default:"64" toml:"subscriber_buffer"`
	StatsWindow      int      `envconfig:"SESSION_STATS_WINDOW" default:"128" toml:"stats_window"`
}

// ArtifactsConfig holds artifact extraction configuration. An empty Dir
// means a per-run directory under the OS temp root.
type ArtifactsConfig struct {
	Dir string `envconfig:"ARTIFACTS_DIR" default:"" toml:"dir"`
}

// HistoryConfig holds the execution history store configuration. An empty
// Path means a file under the user cache directory.
type HistoryConfig struct {
	Enabled bool   `envconfig:"HISTORY_ENABLED" default:"true" toml:"enabled"`
	Path    string `envconfig:"HISTORY_PATH" default:"" toml:"path"`
}

// InterpretersConfig holds the interpreter registry configuration.
type InterpretersConfig struct {
	Registry     string   `envconfig:"INTERPRETERS_REGISTRY" default:"" toml:"registry"`
	ProbeTimeout Duration `envconfig:"INTERPRETERS_PROBE_TIMEOUT" default:"10s" toml:"probe_timeout"`
}

// TerminalConfig holds PTY terminal configuration.
type TerminalConfig struct {
	BufferBytes int `envconfig:"TERMINAL_BUFFER_BYTES" default:"1048576" toml:"buffer_bytes"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" toml:"development"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100" toml:"requests_per_second"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200" toml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true" toml:"enabled"`
}

// Load builds configuration from defaults and RODEO_* environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadFile layers an explicit TOML file over Load. Values present in the
// file win over environment variables; absent keys keep the Load result.
func LoadFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8811",
			Host: "127.0.0.1",
		},
		Kernel: KernelConfig{
			StartupTimeout: Duration(30 * time.Second),
			KillGrace:      Duration(3 * time.Second),
			EventBuffer:    256,
			MaxLineBytes:   32 << 20,
		},
		Session: SessionConfig{
			CompleteTimeout:  Duration(5 * time.Second),
			SubscriberBuffer: 64,
			StatsWindow:      128,
		},
		History: HistoryConfig{
			Enabled: true,
		},
		Interpreters: InterpretersConfig{
			ProbeTimeout: Duration(10 * time.Second),
		},
		Terminal: TerminalConfig{
			BufferBytes: 1 << 20,
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}

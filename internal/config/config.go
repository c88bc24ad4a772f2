package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Backend         BackendConfig     `yaml:"backend"`
	Push            PushConfig        `yaml:"push"`
	Engine          EngineConfig      `yaml:"engine"`
	Database        DatabaseConfig    `yaml:"database"`
	Ledger          LedgerConfig      `yaml:"ledger"`
	EventBus        EventBusConfig    `yaml:"eventbus"`
	Healthcheck     HealthcheckConfig `yaml:"healthcheck"`
	Log             LogConfig         `yaml:"log"`
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"`
}

// BackendConfig contains lighting backend connection settings
type BackendConfig struct {
	Address      string   `yaml:"address"`        // e.g. http://lights.local:8080
	Timeout      Duration `yaml:"timeout"`        // HTTP timeout for REST requests
	RateLimitRPS float64  `yaml:"rate_limit_rps"` // Outbound control write rate limit
}

// PushConfig contains push channel reconnect settings
type PushConfig struct {
	Enabled         *bool    `yaml:"enabled"`
	MinRetryBackoff Duration `yaml:"min_retry_backoff"` // Minimum backoff between reconnects (default: 1s)
	MaxRetryBackoff Duration `yaml:"max_retry_backoff"` // Maximum backoff between reconnects (default: 2m)
	RetryMultiplier float64  `yaml:"retry_multiplier"`  // Backoff multiplier (default: 2.0)
	MaxReconnects   int      `yaml:"max_reconnects"`    // Max reconnect attempts, 0 = infinite
}

// IsEnabled returns whether the push channel is enabled (default: true)
func (c *PushConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// EngineConfig contains reconciliation engine timing settings
type EngineConfig struct {
	PollInterval        Duration `yaml:"poll_interval"`         // Full refetch period (default: 2s)
	DebounceQuiet       Duration `yaml:"debounce_quiet"`        // Slider quiet period (default: 50ms, clamped to 20-100ms)
	FixtureIntentWindow Duration `yaml:"fixture_intent_window"` // Fixture intent freshness (default: 500ms)
	GroupIntentWindow   Duration `yaml:"group_intent_window"`   // Group intent freshness (default: 5s)
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LedgerConfig contains control ledger settings
type LedgerConfig struct {
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 4)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// HealthcheckConfig contains health/metrics server settings
type HealthcheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	UseJSON bool   `yaml:"json"`
	Colors  bool   `yaml:"colors"`
}

// GetLevel returns the log level with default
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return c.Level
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	if cfg.Backend.Address == "" {
		return nil, fmt.Errorf("backend.address is required")
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	// Backend defaults
	if cfg.Backend.Timeout == 0 {
		cfg.Backend.Timeout = Duration(10 * time.Second)
	}
	if cfg.Backend.RateLimitRPS == 0 {
		cfg.Backend.RateLimitRPS = 20.0
	}

	// Push defaults
	if cfg.Push.MinRetryBackoff == 0 {
		cfg.Push.MinRetryBackoff = Duration(1 * time.Second)
	}
	if cfg.Push.MaxRetryBackoff == 0 {
		cfg.Push.MaxRetryBackoff = Duration(2 * time.Minute)
	}
	if cfg.Push.RetryMultiplier == 0 {
		cfg.Push.RetryMultiplier = 2.0
	}

	// Engine defaults. The debounce quiet period is clamped: shorter than
	// 20ms chatters the network, longer than 100ms lags visibly.
	if cfg.Engine.PollInterval == 0 {
		cfg.Engine.PollInterval = Duration(2 * time.Second)
	}
	if cfg.Engine.DebounceQuiet == 0 {
		cfg.Engine.DebounceQuiet = Duration(50 * time.Millisecond)
	}
	if cfg.Engine.DebounceQuiet < Duration(20*time.Millisecond) {
		cfg.Engine.DebounceQuiet = Duration(20 * time.Millisecond)
	}
	if cfg.Engine.DebounceQuiet > Duration(100*time.Millisecond) {
		cfg.Engine.DebounceQuiet = Duration(100 * time.Millisecond)
	}
	if cfg.Engine.FixtureIntentWindow == 0 {
		cfg.Engine.FixtureIntentWindow = Duration(500 * time.Millisecond)
	}
	if cfg.Engine.GroupIntentWindow == 0 {
		cfg.Engine.GroupIntentWindow = Duration(5 * time.Second)
	}

	// Database defaults
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./lumctl.sqlite"
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// Healthcheck defaults
	if cfg.Healthcheck.Port == 0 {
		cfg.Healthcheck.Port = 9090
	}
	if cfg.Healthcheck.Host == "" {
		cfg.Healthcheck.Host = "0.0.0.0"
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}

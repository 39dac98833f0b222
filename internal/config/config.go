// Package config loads and validates the pipeline descriptor.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the full pipeline descriptor.
type Config struct {
	Pipeline PipelineConfig    `yaml:"pipeline"`
	Env      map[string]string `yaml:"env,omitempty"`
	Cache    CacheConfig       `yaml:"cache"`
	Database DatabaseConfig    `yaml:"database"`
	Matrix   []JobConfig       `yaml:"matrix"`
	Defaults DefaultsConfig    `yaml:"defaults,omitempty"`
	Retry    RetryConfig       `yaml:"retry,omitempty"`
	Daemon   DaemonConfig      `yaml:"daemon,omitempty"`
}

// PipelineConfig names the pipeline and optionally points at the source to check out.
type PipelineConfig struct {
	Name     string          `yaml:"name"`
	Checkout *CheckoutConfig `yaml:"checkout,omitempty"`
}

// CheckoutConfig describes the repository checked out into the run workspace.
type CheckoutConfig struct {
	URL          string      `yaml:"url"`
	Branch       string      `yaml:"branch,omitempty"`
	ShallowDepth int         `yaml:"shallow_depth,omitempty"`
	Auth         *AuthConfig `yaml:"auth,omitempty"`
}

// AuthConfig represents authentication configuration for checkout.
type AuthConfig struct {
	Type     string `yaml:"type"` // "token", "basic"
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	Token    string `yaml:"token,omitempty"`
}

// Channel is a compiler release channel for a matrix entry.
type Channel string

const (
	ChannelStable  Channel = "stable"
	ChannelBeta    Channel = "beta"
	ChannelNightly Channel = "nightly"
)

// JobConfig is one matrix entry. Loaded once, never mutated afterwards.
type JobConfig struct {
	Name         string            `yaml:"name"`
	Channel      Channel           `yaml:"channel"`
	AllowFailure bool              `yaml:"allow_failure,omitempty"`
	Setup        []string          `yaml:"setup,omitempty"`
	Tests        []string          `yaml:"tests"`
	Env          map[string]string `yaml:"env,omitempty"`
}

// CacheConfig describes the persisted cache directory set.
type CacheConfig struct {
	Key            string   `yaml:"key,omitempty"`
	Directory      string   `yaml:"directory,omitempty"` // cache archive root
	Directories    []string `yaml:"directories,omitempty"`
	RestoreTimeout Duration `yaml:"restore_timeout,omitempty"`
}

// DatabaseConfig describes per-job database provisioning.
type DatabaseConfig struct {
	SetupCommand string `yaml:"setup_command,omitempty"`
	DropCommand  string `yaml:"drop_command,omitempty"`
}

// DefaultsConfig holds run-wide defaults applied to every job.
type DefaultsConfig struct {
	StepTimeout Duration `yaml:"step_timeout,omitempty"`
}

// RetryBackoffMode selects the backoff curve for transient checkout failures.
type RetryBackoffMode string

const (
	RetryBackoffFixed       RetryBackoffMode = "fixed"
	RetryBackoffLinear      RetryBackoffMode = "linear"
	RetryBackoffExponential RetryBackoffMode = "exponential"
)

// RetryConfig holds retry/backoff settings for transient checkout failures.
type RetryConfig struct {
	Backoff    RetryBackoffMode `yaml:"backoff,omitempty"`
	Initial    Duration         `yaml:"initial,omitempty"`
	Max        Duration         `yaml:"max,omitempty"`
	MaxRetries int              `yaml:"max_retries,omitempty"`
}

// DaemonConfig configures daemon mode (scheduled runs plus the status API).
type DaemonConfig struct {
	Listen         string           `yaml:"listen,omitempty"`
	Workers        int              `yaml:"workers,omitempty"`
	QueueSize      int              `yaml:"queue_size,omitempty"`
	HistorySize    int              `yaml:"history_size,omitempty"`
	StatePath      string           `yaml:"state_path,omitempty"`
	MetricsEnabled bool             `yaml:"metrics_enabled,omitempty"`
	NATS           *NATSConfig      `yaml:"nats,omitempty"`
	Schedules      []ScheduleConfig `yaml:"schedules,omitempty"`
}

// NATSConfig enables publishing run events onto a NATS subject.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject,omitempty"`
}

// ScheduleConfig is a periodic run trigger. Either Cron or Interval must be set.
type ScheduleConfig struct {
	Name     string   `yaml:"name"`
	Cron     string   `yaml:"cron,omitempty"`
	Interval Duration `yaml:"interval,omitempty"`
}

// Duration wraps time.Duration with YAML support for "360s"-style values.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Load loads the pipeline descriptor from the specified file.
func Load(configPath string) (*Config, error) {
	// Load .env if present; missing files are fine.
	loadEnvFiles()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("pipeline descriptor not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline descriptor: %w", err)
	}

	return Parse(data)
}

// Parse parses a pipeline descriptor from raw YAML. Environment variables in
// the document body are expanded before unmarshalling so secrets can stay in
// the process environment.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pipeline descriptor: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Package config loads engine configuration from YAML, .env files and RELAY_ environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/jzx17/gorelay/pkg/backend/httpbackend"
	"github.com/jzx17/gorelay/pkg/logger"
	"github.com/jzx17/gorelay/pkg/retry"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. RELAY_RETRY_MAX_ATTEMPTS
const EnvPrefix = "RELAY"

// DefaultArtifactDir is where per-request artifacts land when debug is on
const DefaultArtifactDir = "artifacts"

// RetryConfig describes a retry policy. Pointer fields distinguish "unset"
// from an explicit false or zero so provider overrides can inherit them.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay" mapstructure:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay" mapstructure:"max_delay"`
	Linear      *bool         `yaml:"linear" mapstructure:"linear"`
	Jitter      *bool         `yaml:"jitter" mapstructure:"jitter"`
	JitterSeed  *uint64       `yaml:"jitter_seed" mapstructure:"jitter_seed"`
}

// Validate validates the retry section.
func (c *RetryConfig) Validate(section string) error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("%s.max_attempts must be at least 1 (got: %d)", section, c.MaxAttempts)
	}
	if c.BaseDelay < 0 || c.MaxDelay < 0 {
		return fmt.Errorf("%s delays must not be negative", section)
	}
	return nil
}

// Policy builds the retry policy this section describes.
func (c *RetryConfig) Policy() (*retry.Policy, error) {
	var opts []retry.PolicyOption
	if c.Linear != nil && *c.Linear {
		opts = append(opts, retry.WithLinear())
	}
	if c.Jitter != nil && *c.Jitter {
		opts = append(opts, retry.WithJitter())
	}
	if c.JitterSeed != nil {
		opts = append(opts, retry.WithJitterSeed(*c.JitterSeed))
	}
	return retry.NewPolicy(c.MaxAttempts, c.BaseDelay, c.MaxDelay, opts...)
}

// inherit fills every field left unset from parent.
func (c *RetryConfig) inherit(parent RetryConfig) {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = parent.MaxAttempts
	}
	if c.BaseDelay == 0 {
		c.BaseDelay = parent.BaseDelay
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = parent.MaxDelay
	}
	if c.Linear == nil {
		c.Linear = parent.Linear
	}
	if c.Jitter == nil {
		c.Jitter = parent.Jitter
	}
	if c.JitterSeed == nil {
		c.JitterSeed = parent.JitterSeed
	}
}

// ProviderConfig describes one HTTP provider and its optional retry override.
type ProviderConfig struct {
	httpbackend.Config `yaml:",inline" mapstructure:",squash"`

	Retry *RetryConfig `yaml:"retry" mapstructure:"retry"`
}

// DefaultsConfig holds per-request defaults.
type DefaultsConfig struct {
	Timeout time.Duration     `yaml:"timeout" mapstructure:"timeout"`
	Headers map[string]string `yaml:"headers" mapstructure:"headers"`
	Tags    map[string]string `yaml:"tags" mapstructure:"tags"`
}

// ConcurrencyConfig bounds batch fan-out.
type ConcurrencyConfig struct {
	// Limit is the per-batch default; 0 means GOMAXPROCS.
	Limit int `yaml:"limit" mapstructure:"limit"`
	// Shared caps in-flight requests across all batches; 0 disables it.
	Shared int `yaml:"shared" mapstructure:"shared"`
}

// ArtifactsConfig controls debug artifact output.
type ArtifactsConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	Dir       string `yaml:"dir" mapstructure:"dir"`
	FileName  string `yaml:"file_name" mapstructure:"file_name"`
	CreateDir bool   `yaml:"create_dir" mapstructure:"create_dir"`
}

// Config is the complete engine configuration.
type Config struct {
	Retry           RetryConfig       `yaml:"retry" mapstructure:"retry"`
	DefaultProvider string            `yaml:"default_provider" mapstructure:"default_provider"`
	Providers       []ProviderConfig  `yaml:"providers" mapstructure:"providers"`
	Defaults        DefaultsConfig    `yaml:"defaults" mapstructure:"defaults"`
	Concurrency     ConcurrencyConfig `yaml:"concurrency" mapstructure:"concurrency"`
	Artifacts       ArtifactsConfig   `yaml:"artifacts" mapstructure:"artifacts"`
	Logging         logger.Config     `yaml:"logging" mapstructure:"logging"`
}

// ApplyDefaults fills in unset fields.
func (c *Config) ApplyDefaults() {
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = retry.DefaultMaxAttempts
	}
	if c.Artifacts.Dir == "" {
		c.Artifacts.Dir = DefaultArtifactDir
	}
	if c.DefaultProvider == "" && len(c.Providers) > 0 {
		c.DefaultProvider = c.Providers[0].Name
	}
	for i := range c.Providers {
		p := &c.Providers[i]
		p.Config.ApplyDefaults()
		// a provider override only replaces the fields it names
		if p.Retry != nil {
			p.Retry.inherit(c.Retry)
		}
	}
	c.Logging.ApplyDefaults()
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Retry.Validate("retry"); err != nil {
		return err
	}
	if c.Concurrency.Limit < 0 || c.Concurrency.Shared < 0 {
		return errors.New("concurrency limits must not be negative")
	}

	seen := make(map[string]bool, len(c.Providers))
	for i := range c.Providers {
		p := &c.Providers[i]
		if err := p.Config.Validate(); err != nil {
			return fmt.Errorf("providers[%d]: %w", i, err)
		}
		if seen[p.Name] {
			return fmt.Errorf("providers[%d]: duplicate name %q", i, p.Name)
		}
		seen[p.Name] = true
		if p.Retry != nil {
			if err := p.Retry.Validate(fmt.Sprintf("providers[%d].retry", i)); err != nil {
				return err
			}
		}
	}
	if c.DefaultProvider != "" && len(c.Providers) > 0 && !seen[c.DefaultProvider] {
		return fmt.Errorf("default_provider %q is not a configured provider", c.DefaultProvider)
	}

	return c.Logging.Validate()
}

// Policy builds the process-wide retry policy.
func (c *Config) Policy() (*retry.Policy, error) {
	return c.Retry.Policy()
}

// ProviderPolicies builds the per-provider policy overrides.
func (c *Config) ProviderPolicies() (map[string]retry.RetryPolicy, error) {
	policies := make(map[string]retry.RetryPolicy)
	for _, p := range c.Providers {
		if p.Retry == nil {
			continue
		}
		policy, err := p.Retry.Policy()
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", p.Name, err)
		}
		policies[p.Name] = policy
	}
	return policies, nil
}

// Backends builds one HTTP backend per configured provider.
func (c *Config) Backends() ([]*httpbackend.Backend, error) {
	backends := make([]*httpbackend.Backend, 0, len(c.Providers))
	for _, p := range c.Providers {
		b, err := httpbackend.New(p.Config)
		if err != nil {
			return nil, err
		}
		backends = append(backends, b)
	}
	return backends, nil
}

// LoaderConfig holds optional file overrides.
type LoaderConfig struct {
	ConfigFile string
	EnvFile    string
}

// LoaderOption is a functional option for Load.
type LoaderOption func(*LoaderConfig)

// WithConfigFile sets the YAML config file path.
func WithConfigFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.ConfigFile = path }
}

// WithEnvFile sets the .env file path.
func WithEnvFile(path string) LoaderOption {
	return func(lc *LoaderConfig) { lc.EnvFile = path }
}

// Load reads configuration in order: built-in defaults, the YAML file, the
// .env file (never overriding variables already set), then RELAY_ variables.
func Load(opts ...LoaderOption) (*Config, error) {
	var lc LoaderConfig
	for _, opt := range opts {
		opt(&lc)
	}

	v := viper.New()
	setDefaults(v)

	if lc.ConfigFile != "" {
		v.SetConfigFile(lc.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", lc.ConfigFile, err)
		}
	}

	if lc.EnvFile != "" {
		if _, err := os.Stat(lc.EnvFile); err == nil {
			if err := godotenv.Load(lc.EnvFile); err != nil {
				return nil, fmt.Errorf("load env file %s: %w", lc.EnvFile, err)
			}
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every scalar key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("retry.max_attempts", retry.DefaultMaxAttempts)
	v.SetDefault("retry.base_delay", retry.DefaultBaseDelay)
	v.SetDefault("retry.max_delay", retry.DefaultMaxDelay)
	v.SetDefault("retry.linear", false)
	v.SetDefault("retry.jitter", false)
	v.SetDefault("default_provider", "")
	v.SetDefault("defaults.timeout", time.Duration(0))
	v.SetDefault("concurrency.limit", 0)
	v.SetDefault("concurrency.shared", 0)
	v.SetDefault("artifacts.enabled", false)
	v.SetDefault("artifacts.dir", DefaultArtifactDir)
	v.SetDefault("artifacts.file_name", "")
	v.SetDefault("artifacts.create_dir", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("logging.no_color", false)
	v.SetDefault("logging.timestamp", true)
}

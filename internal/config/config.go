package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the executor service configuration
type Config struct {
	Port     int            `yaml:"port"`
	APIKey   string         `yaml:"api_key"` // Empty disables authentication
	LogLevel string         `yaml:"log_level"`
	RunsDir  string         `yaml:"runs_dir"` // Directory for run records
	Executor ExecutorConfig `yaml:"executor"`
}

// ExecutorConfig holds everything the invocation core reads.
type ExecutorConfig struct {
	Paths    PathsConfig    `yaml:"paths"`
	Defaults DefaultsConfig `yaml:"defaults"`
	Limits   LimitsConfig   `yaml:"limits"`
	Retry    RetryConfig    `yaml:"retry"`
}

// PathsConfig locates the CLI binary and its working directory.
type PathsConfig struct {
	CLIPath       string `yaml:"cli_path"`
	WorkspacePath string `yaml:"workspace_path"`
}

// DefaultsConfig holds per-request fallbacks.
type DefaultsConfig struct {
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"` // Per attempt
}

// LimitsConfig bounds request size and admission.
type LimitsConfig struct {
	MaxPromptLength int `yaml:"max_prompt_length"`
	MaxConcurrent   int `yaml:"max_concurrent"` // Enforced by the admission gate, not the core
}

// RetryConfig controls the attempt loop.
type RetryConfig struct {
	Attempts          int           `yaml:"attempts"`
	Delay             time.Duration `yaml:"delay"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// Defaults
const (
	DefaultPort              = 3000
	DefaultLogLevel          = "info"
	DefaultCLIPath           = "claude"
	DefaultModel             = "sonnet"
	DefaultTimeout           = 120 * time.Second
	DefaultMaxPromptLength   = 50000
	DefaultMaxConcurrent     = 5
	DefaultRetryAttempts     = 3
	DefaultRetryDelay        = time.Second
	DefaultBackoffMultiplier = 2.0
)

// ValidModels lists the accepted model selectors.
var ValidModels = []string{"haiku", "sonnet", "opus"}

func defaults() *Config {
	return &Config{
		Port:     DefaultPort,
		LogLevel: DefaultLogLevel,
		Executor: ExecutorConfig{
			Paths: PathsConfig{
				CLIPath: DefaultCLIPath,
			},
			Defaults: DefaultsConfig{
				Model:   DefaultModel,
				Timeout: DefaultTimeout,
			},
			Limits: LimitsConfig{
				MaxPromptLength: DefaultMaxPromptLength,
				MaxConcurrent:   DefaultMaxConcurrent,
			},
			Retry: RetryConfig{
				Attempts:          DefaultRetryAttempts,
				Delay:             DefaultRetryDelay,
				BackoffMultiplier: DefaultBackoffMultiplier,
			},
		},
	}
}

// Parse parses YAML config data
func Parse(data []byte) (*Config, error) {
	cfg := defaults()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.derivePaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Load loads config from a file path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Default returns a config with default values
func Default() *Config {
	cfg := defaults()
	cfg.derivePaths()
	return cfg
}

func (c *Config) derivePaths() {
	if c.Executor.Paths.WorkspacePath == "" {
		c.Executor.Paths.WorkspacePath = DefaultWorkspacePath()
	}
	if c.RunsDir == "" {
		c.RunsDir = DefaultRunsPath()
	}
}

// Validate checks config validity
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}

	e := c.Executor
	if e.Paths.CLIPath == "" {
		return fmt.Errorf("cli_path must not be empty")
	}
	if !IsValidModel(e.Defaults.Model) {
		return fmt.Errorf("model must be opus, sonnet, or haiku, got %q", e.Defaults.Model)
	}
	if e.Defaults.Timeout < time.Second {
		return fmt.Errorf("timeout must be at least 1 second, got %v", e.Defaults.Timeout)
	}
	if e.Limits.MaxPromptLength < 1 {
		return fmt.Errorf("max_prompt_length must be at least 1, got %d", e.Limits.MaxPromptLength)
	}
	if e.Limits.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", e.Limits.MaxConcurrent)
	}
	if e.Retry.Attempts < 1 {
		return fmt.Errorf("retry attempts must be at least 1, got %d", e.Retry.Attempts)
	}
	if e.Retry.Delay < 0 {
		return fmt.Errorf("retry delay must not be negative, got %v", e.Retry.Delay)
	}
	if e.Retry.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff_multiplier must be at least 1, got %v", e.Retry.BackoffMultiplier)
	}

	return nil
}

// IsValidModel reports whether name is one of ValidModels.
func IsValidModel(name string) bool {
	for _, m := range ValidModels {
		if m == name {
			return true
		}
	}
	return false
}

// ApplyEnv overrides fields from environment variables. Integer durations are
// milliseconds, matching the variables the service has always read.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string) (int, bool, error) {
		v, ok := lookup(key)
		if !ok || v == "" {
			return 0, false, nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, false, fmt.Errorf("%s must be an integer, got %q", key, v)
		}
		return n, true, nil
	}
	num := func(key string, dst *int) error {
		n, ok, err := integer(key)
		if ok {
			*dst = n
		}
		return err
	}
	millis := func(key string, dst *time.Duration) error {
		n, ok, err := integer(key)
		if ok {
			*dst = time.Duration(n) * time.Millisecond
		}
		return err
	}

	str("API_KEY", &c.APIKey)
	str("EXECUTOR_LOG_LEVEL", &c.LogLevel)
	str("EXECUTOR_RUNS_DIR", &c.RunsDir)
	str("CLAUDE_CLI_PATH", &c.Executor.Paths.CLIPath)
	str("CLAUDE_WORKSPACE_PATH", &c.Executor.Paths.WorkspacePath)
	str("CLAUDE_DEFAULT_MODEL", &c.Executor.Defaults.Model)

	for _, f := range []func() error{
		func() error { return num("PORT", &c.Port) },
		func() error { return millis("CLAUDE_DEFAULT_TIMEOUT", &c.Executor.Defaults.Timeout) },
		func() error { return num("CLAUDE_MAX_PROMPT_LENGTH", &c.Executor.Limits.MaxPromptLength) },
		func() error { return num("CLAUDE_MAX_CONCURRENT", &c.Executor.Limits.MaxConcurrent) },
		func() error { return num("CLAUDE_RETRY_ATTEMPTS", &c.Executor.Retry.Attempts) },
		func() error { return millis("CLAUDE_RETRY_DELAY_MS", &c.Executor.Retry.Delay) },
	} {
		if err := f(); err != nil {
			return err
		}
	}
	return nil
}

// DefaultWorkspacePath returns ./claude-workspace relative to the process
// working directory.
func DefaultWorkspacePath() string {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	return filepath.Join(wd, "claude-workspace")
}

// DefaultRunsPath returns the default run record directory.
// Uses EXECUTOR_ROOT env var if set, otherwise ~/.claude-executor/runs
func DefaultRunsPath() string {
	root := os.Getenv("EXECUTOR_ROOT")
	if root == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "/tmp"
		}
		root = filepath.Join(home, ".claude-executor")
	}
	return filepath.Join(root, "runs")
}

// SchemasDir is where schema files are loaded from.
func (c *Config) SchemasDir() string {
	return filepath.Join(c.Executor.Paths.WorkspacePath, "schemas")
}

// Package config handles configuration loading for triad.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Executor backends.
const (
	BackendProcess  = "process"
	BackendAPI      = "api"
	BackendSimulate = "simulate"
)

// Config holds all configuration for triad.
type Config struct {
	StateDir   string           `mapstructure:"state_dir"`
	Store      StoreConfig      `mapstructure:"store"`
	Executor   ExecutorConfig   `mapstructure:"executor"`
	Workflow   WorkflowConfig   `mapstructure:"workflow"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Server     ServerConfig     `mapstructure:"server"`
	Anthropic  AnthropicConfig  `mapstructure:"anthropic"`
	Log        LogConfig        `mapstructure:"log"`
	TUI        TUIConfig        `mapstructure:"tui"`
}

// StoreConfig selects the durable store file and SQLite driver.
type StoreConfig struct {
	// Path defaults to <state_dir>/triad.db.
	Path string `mapstructure:"path"`
	// Driver is "sqlite" (pure Go) or "sqlite3" (cgo).
	Driver string `mapstructure:"driver"`
}

// ExecutorConfig configures how workers run and are supervised.
type ExecutorConfig struct {
	Backend      string        `mapstructure:"backend"`
	ClaudeBin    string        `mapstructure:"claude_bin"`
	Model        string        `mapstructure:"model"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	GracePeriod  time.Duration `mapstructure:"grace_period"`
	TaskTimeout  time.Duration `mapstructure:"task_timeout"`
}

// WorkflowConfig bounds workflow runs.
type WorkflowConfig struct {
	MaxCycles int `mapstructure:"max_cycles"`
	// Commit stages and commits the work tree after each completed task.
	Commit bool `mapstructure:"commit"`
}

// CheckpointConfig controls periodic session snapshots.
type CheckpointConfig struct {
	// Dir defaults to <state_dir>/checkpoints.
	Dir      string        `mapstructure:"dir"`
	Interval time.Duration `mapstructure:"interval"`
	Keep     int           `mapstructure:"keep"`
}

// ServerConfig holds the status API listen address.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key"`
	MaxTokens  int64  `mapstructure:"max_tokens"`
	Bedrock    bool   `mapstructure:"bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// LogConfig names the debug log file. Empty disables logging.
type LogConfig struct {
	Path string `mapstructure:"path"`
}

// TUIConfig holds dashboard settings.
type TUIConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (TRIAD_*, ANTHROPIC_API_KEY)
// 2. Project config (.triad.yaml in current directory or parent)
// 3. User config (~/.config/triad/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		pv := viper.New()
		pv.SetConfigFile(projectConfig)
		if err := pv.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading project config %s: %w", projectConfig, err)
		}
		if err := v.MergeConfigMap(pv.AllSettings()); err != nil {
			return nil, fmt.Errorf("merging project config: %w", err)
		}
	}

	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific file on top of defaults.
func LoadFromPath(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return unmarshal(v)
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := unmarshal(newViper())
	if err != nil {
		panic(fmt.Sprintf("config defaults do not unmarshal: %v", err))
	}
	return cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("TRIAD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "TRIAD_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)
	cfg.StateDir = expandEnv(cfg.StateDir)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("state_dir", ".triad")

	v.SetDefault("store.path", "")
	v.SetDefault("store.driver", "sqlite")

	v.SetDefault("executor.backend", BackendProcess)
	v.SetDefault("executor.claude_bin", "claude")
	v.SetDefault("executor.model", "")
	v.SetDefault("executor.poll_interval", "1s")
	v.SetDefault("executor.grace_period", "10s")
	v.SetDefault("executor.task_timeout", "30m")

	v.SetDefault("workflow.max_cycles", 50)
	v.SetDefault("workflow.commit", false)

	v.SetDefault("checkpoint.dir", "")
	v.SetDefault("checkpoint.interval", "30s")
	v.SetDefault("checkpoint.keep", 10)

	v.SetDefault("server.addr", "127.0.0.1:7420")

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.bedrock", false)
	v.SetDefault("anthropic.aws_region", "")
	v.SetDefault("anthropic.aws_profile", "")

	v.SetDefault("log.path", "")

	v.SetDefault("tui.refresh_rate", "500ms")
}

// Validate rejects settings the rest of the program cannot run with.
func (c *Config) Validate() error {
	switch c.Executor.Backend {
	case BackendProcess, BackendAPI, BackendSimulate:
	default:
		return fmt.Errorf("executor.backend: unknown backend %q", c.Executor.Backend)
	}
	switch c.Store.Driver {
	case "sqlite", "sqlite3":
	default:
		return fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver)
	}
	if c.StateDir == "" {
		return errors.New("state_dir must not be empty")
	}
	if c.Workflow.MaxCycles < 0 {
		return errors.New("workflow.max_cycles must not be negative")
	}
	return nil
}

// StorePath returns the store file, defaulting into the state directory.
func (c *Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	return filepath.Join(c.StateDir, "triad.db")
}

// CheckpointDir returns the checkpoint root, defaulting into the state directory.
func (c *Config) CheckpointDir() string {
	if c.Checkpoint.Dir != "" {
		return c.Checkpoint.Dir
	}
	return filepath.Join(c.StateDir, "checkpoints")
}

// RolesPath is where role profile overrides are read from.
func (c *Config) RolesPath() string {
	return filepath.Join(c.StateDir, "roles.yaml")
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// getUserConfigDir returns the XDG config directory for triad.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "triad")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "triad")
	}
	return filepath.Join(home, ".config", "triad")
}

// findProjectConfig searches for .triad.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		configPath := filepath.Join(cwd, ".triad.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			return ""
		}
		cwd = parent
	}
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

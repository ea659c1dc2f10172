// Package config loads driverforge configuration from
// <workspace>/.driverforge/config.yaml with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all driverforge configuration.
type Config struct {
	Generation GenerationConfig `yaml:"generation"`
	Sandbox    SandboxConfig    `yaml:"sandbox"`
	Retry      RetryConfig      `yaml:"retry"`
	Memory     MemoryConfig     `yaml:"memory"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// GenerationConfig configures the model used for driver generation and
// diagnosis.
type GenerationConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
}

// SandboxConfig configures driver execution.
type SandboxConfig struct {
	// Mode selects the executor: "local" interprets drivers in-process,
	// "remote" posts bundles to a runner service.
	Mode    string `yaml:"mode"`
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
}

// RetryConfig bounds the fix-retry loop and the supervisor.
type RetryConfig struct {
	MaxRetries            int `yaml:"max_retries"`             // inner loop attempts
	MaxSupervisorAttempts int `yaml:"max_supervisor_attempts"` // outer restarts
}

// MemoryConfig configures the lesson store.
type MemoryConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DatabasePath string `yaml:"database_path"`
	HintLimit    int    `yaml:"hint_limit"`
}

// LoggingConfig configures the category file logger.
type LoggingConfig struct {
	Debug bool   `yaml:"debug"`
	Level string `yaml:"level"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Generation: GenerationConfig{
			Model:   "gemini-2.0-flash",
			BaseURL: "https://generativelanguage.googleapis.com/v1beta",
			Timeout: "120s",
		},
		Sandbox: SandboxConfig{
			Mode:    "local",
			BaseURL: "http://localhost:8090",
			Timeout: "60s",
		},
		Retry: RetryConfig{
			MaxRetries:            3,
			MaxSupervisorAttempts: 2,
		},
		Memory: MemoryConfig{
			Enabled:      true,
			DatabasePath: ".driverforge/memory.db",
			HintLimit:    3,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Path returns the config file location for a workspace.
func Path(workspace string) string {
	return filepath.Join(workspace, ".driverforge", "config.yaml")
}

// Load reads configuration for a workspace. A missing file yields defaults;
// a malformed file is an error. Environment overrides apply last.
func Load(workspace string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration back to the workspace.
func (c *Config) Save(workspace string) error {
	path := Path(workspace)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies DRIVERFORGE_* environment variables on top of the
// file. GEMINI_API_KEY is honored as a fallback for the generation key.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Generation.APIKey = key
	}
	if key := os.Getenv("DRIVERFORGE_API_KEY"); key != "" {
		c.Generation.APIKey = key
	}
	if model := os.Getenv("DRIVERFORGE_MODEL"); model != "" {
		c.Generation.Model = model
	}
	if url := os.Getenv("DRIVERFORGE_SANDBOX_URL"); url != "" {
		c.Sandbox.BaseURL = url
		c.Sandbox.Mode = "remote"
	}
	if mode := os.Getenv("DRIVERFORGE_SANDBOX_MODE"); mode != "" {
		c.Sandbox.Mode = mode
	}
	if path := os.Getenv("DRIVERFORGE_DB"); path != "" {
		c.Memory.DatabasePath = path
	}
	if n := os.Getenv("DRIVERFORGE_MAX_RETRIES"); n != "" {
		if v, err := strconv.Atoi(n); err == nil && v > 0 {
			c.Retry.MaxRetries = v
		}
	}
	if os.Getenv("DRIVERFORGE_DEBUG") == "1" {
		c.Logging.Debug = true
	}
}

// Validate checks invariants that would otherwise surface as confusing
// runtime behavior.
func (c *Config) Validate() error {
	if c.Retry.MaxRetries < 1 {
		return fmt.Errorf("retry.max_retries must be >= 1, got %d", c.Retry.MaxRetries)
	}
	if c.Retry.MaxSupervisorAttempts < 1 {
		return fmt.Errorf("retry.max_supervisor_attempts must be >= 1, got %d", c.Retry.MaxSupervisorAttempts)
	}
	switch c.Sandbox.Mode {
	case "local", "remote":
	default:
		return fmt.Errorf("sandbox.mode must be local or remote, got %q", c.Sandbox.Mode)
	}
	return nil
}

// GenerationTimeout returns the generation timeout as a duration.
func (c *Config) GenerationTimeout() time.Duration {
	d, err := time.ParseDuration(c.Generation.Timeout)
	if err != nil || d <= 0 {
		return 120 * time.Second
	}
	return d
}

// SandboxTimeout returns the per-execution timeout as a duration.
func (c *Config) SandboxTimeout() time.Duration {
	d, err := time.ParseDuration(c.Sandbox.Timeout)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

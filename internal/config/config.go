// Package config loads engine configuration from YAML with environment
// variable overrides for secrets and deployment-specific paths.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all mosaic configuration.
type Config struct {
	// LLM configuration
	LLM LLMConfig `yaml:"llm"`

	// Invocation ceilings
	Limits LimitsConfig `yaml:"limits"`

	// Response cache
	Cache CacheConfig `yaml:"cache"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the primary model, the sub-query model, and the
// critic pool.
type LLMConfig struct {
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`

	// Model drives the top-level loop; SubModel answers LLMQuery and
	// ParallelQuery calls. An empty SubModel reuses Model.
	Model    string `yaml:"model"`
	SubModel string `yaml:"sub_model"`

	// CriticModels review final answers when validation is enabled.
	CriticModels []string `yaml:"critic_models"`

	Temperature float64 `yaml:"temperature"`
	Timeout     string  `yaml:"timeout"`
}

// LimitsConfig holds the per-invocation ceilings.
type LimitsConfig struct {
	MaxIterations     int     `yaml:"max_iterations"`
	MaxRecursionDepth int     `yaml:"max_recursion_depth"`
	MaxSubCalls       int     `yaml:"max_sub_calls"`
	MaxParallelCalls  int     `yaml:"max_parallel_calls"`
	MaxOutputLen      int     `yaml:"max_output_len"`
	ValidationBudget  float64 `yaml:"validation_budget"`
}

// CacheConfig configures the SQLite response cache.
type CacheConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
	File   string `yaml:"file"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:    "openai",
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o",
			SubModel:    "gpt-4o-mini",
			Temperature: 0.7,
			Timeout:     "120s",
		},

		Limits: LimitsConfig{
			MaxIterations:     20,
			MaxRecursionDepth: 5,
			MaxSubCalls:       100,
			MaxParallelCalls:  10,
			MaxOutputLen:      10000,
			ValidationBudget:  1.0,
		},

		Cache: CacheConfig{
			Enabled: true,
			Path:    "data/mosaic-cache.db",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			File:   "",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
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

// applyEnvOverrides applies environment variable overrides. Secrets live
// in the environment, never in the config file that gets committed.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("MOSAIC_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if c.LLM.APIKey == "" {
		if key := os.Getenv("OPENAI_API_KEY"); key != "" {
			c.LLM.APIKey = key
		}
	}
	if c.LLM.APIKey == "" {
		if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
			c.LLM.APIKey = key
		}
	}

	if model := os.Getenv("MOSAIC_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if model := os.Getenv("MOSAIC_SUB_MODEL"); model != "" {
		c.LLM.SubModel = model
	}
	if url := os.Getenv("MOSAIC_BASE_URL"); url != "" {
		c.LLM.BaseURL = url
	}

	if path := os.Getenv("MOSAIC_CACHE_PATH"); path != "" {
		c.Cache.Path = path
	}
	if v := os.Getenv("MOSAIC_CACHE_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Cache.Enabled = enabled
		}
	}

	if level := os.Getenv("MOSAIC_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// Validate checks the configuration for obvious misconfiguration before
// any invocation starts.
func (c *Config) Validate() error {
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model must be set")
	}
	if c.Limits.MaxIterations < 1 {
		return fmt.Errorf("limits.max_iterations must be at least 1")
	}
	if c.Limits.MaxParallelCalls < 1 {
		return fmt.Errorf("limits.max_parallel_calls must be at least 1")
	}
	if c.Limits.ValidationBudget < 0 {
		return fmt.Errorf("limits.validation_budget must not be negative")
	}
	if c.Cache.Enabled && c.Cache.Path == "" {
		return fmt.Errorf("cache.path must be set when the cache is enabled")
	}
	return nil
}

// Package config loads and validates quill configuration from
// .quill/config.yaml, with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all quill configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Assistant behavior
	Assistant AssistantConfig `yaml:"assistant"`

	// Chat backend configuration
	LLM LLMConfig `yaml:"llm"`

	// Persistent store configuration
	Store StoreConfig `yaml:"store"`

	// Document watcher configuration
	Watch WatchConfig `yaml:"watch"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// AssistantConfig configures thread behavior.
type AssistantConfig struct {
	// Maximum retained messages per session (system message excluded).
	HistoryLimit int `yaml:"history_limit"`

	// Default mode for new document threads: developer or beginner.
	DefaultMode string `yaml:"default_mode"`
}

// LLMConfig configures the chat backend.
type LLMConfig struct {
	Provider string `yaml:"provider"` // genai, gemini-http
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Timeout  string `yaml:"timeout"`
}

// StoreConfig configures the persistent key-value store.
type StoreConfig struct {
	// Path to the sqlite database, relative to the workspace.
	DatabasePath string `yaml:"database_path"`
}

// WatchConfig configures the document lifecycle watcher.
type WatchConfig struct {
	// File extensions that get a document thread.
	Extensions []string `yaml:"extensions"`

	// Debounce window for rapid filesystem events.
	Debounce string `yaml:"debounce"`
}

// LoggingConfig configures categorized debug logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"` // debug, info, warn, error
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "quill",
		Version: "0.3.0",

		Assistant: AssistantConfig{
			HistoryLimit: 40,
			DefaultMode:  "developer",
		},

		LLM: LLMConfig{
			Provider: "genai",
			Model:    "gemini-2.5-flash",
			BaseURL:  "https://generativelanguage.googleapis.com/v1beta",
			Timeout:  "120s",
		},

		Store: StoreConfig{
			DatabasePath: filepath.Join(".quill", "quill.db"),
		},

		Watch: WatchConfig{
			Extensions: []string{".md", ".markdown", ".mdx", ".txt", ".rst", ".adoc"},
			Debounce:   "500ms",
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// ConfigPath returns the config file path for a workspace.
func ConfigPath(workspace string) string {
	return filepath.Join(workspace, ".quill", "config.yaml")
}

// Load loads configuration from a YAML file.
// Missing file returns defaults; environment variables override both.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
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

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" && c.LLM.APIKey == "" {
		c.LLM.APIKey = key
	}
	if model := os.Getenv("QUILL_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if path := os.Getenv("QUILL_DB"); path != "" {
		c.Store.DatabasePath = path
	}
}

// GetLLMTimeout returns the chat backend timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// GetWatchDebounce returns the watcher debounce window as a duration.
func (c *Config) GetWatchDebounce() time.Duration {
	d, err := time.ParseDuration(c.Watch.Debounce)
	if err != nil {
		return 500 * time.Millisecond
	}
	return d
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Assistant.HistoryLimit < 2 {
		return fmt.Errorf("assistant.history_limit must be at least 2, got %d", c.Assistant.HistoryLimit)
	}
	switch c.Assistant.DefaultMode {
	case "developer", "beginner":
	default:
		return fmt.Errorf("assistant.default_mode must be developer or beginner, got %q", c.Assistant.DefaultMode)
	}
	switch c.LLM.Provider {
	case "genai", "gemini-http":
	default:
		return fmt.Errorf("llm.provider must be genai or gemini-http, got %q", c.LLM.Provider)
	}
	if len(c.Watch.Extensions) == 0 {
		return fmt.Errorf("watch.extensions must not be empty")
	}
	return nil
}

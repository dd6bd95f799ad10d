// Package config loads runtime configuration from an optional YAML file
// layered under THREADWEAVE_-prefixed environment variables, with defaults
// applied in code.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config is the full runtime configuration.
type Config struct {
	Model      ModelConfig      `koanf:"model"`
	Store      StoreConfig      `koanf:"store"`
	Compaction CompactionConfig `koanf:"compaction"`
	Approval   ApprovalConfig   `koanf:"approval"`
	Retry      RetryConfig      `koanf:"retry"`
	Log        LogConfig        `koanf:"log"`
}

// ModelConfig selects and tunes the provider backend.
type ModelConfig struct {
	Provider      string  `koanf:"provider"` // "anthropic", "openai", "mock"
	Name          string  `koanf:"name"`
	APIKey        string  `koanf:"api_key"`
	Temperature   float64 `koanf:"temperature"`
	MaxTokens     int64   `koanf:"max_tokens"`
	ContextWindow int     `koanf:"context_window"`
	Stream        bool    `koanf:"stream"`
}

// StoreConfig selects the event log backend.
type StoreConfig struct {
	Driver string `koanf:"driver"` // "memory" or "sqlite"
	Path   string `koanf:"path"`   // sqlite database path
}

// CompactionConfig tunes the auto-compaction trigger.
type CompactionConfig struct {
	Threshold  float64       `koanf:"threshold"`
	Cooldown   time.Duration `koanf:"cooldown"`
	KeepRecent int           `koanf:"keep_recent"`
}

// ApprovalConfig tunes the approval gate.
type ApprovalConfig struct {
	Timeout time.Duration `koanf:"timeout"`
	Auto    bool          `koanf:"auto"` // auto-approve every call (non-interactive use)
}

// RetryConfig tunes the provider retry policy.
type RetryConfig struct {
	MaxAttempts int           `koanf:"max_attempts"`
	Base        time.Duration `koanf:"base"`
}

// LogConfig tunes structured logging.
type LogConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json or text
}

const envPrefix = "THREADWEAVE_"

// Load reads configuration. path may be empty to skip the file layer;
// environment variables override file values. Nesting levels in variable
// names are separated by a double underscore so snake_case keys survive:
// THREADWEAVE_MODEL__PROVIDER maps to model.provider,
// THREADWEAVE_MODEL__API_KEY to model.api_key.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	applyDefaults(k)

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func applyDefaults(k *koanf.Koanf) {
	defaults := map[string]any{
		"model.provider":         "anthropic",
		"model.temperature":      0.7,
		"model.max_tokens":       4096,
		"store.driver":           "memory",
		"store.path":             "threadweave.db",
		"compaction.threshold":   0.8,
		"compaction.cooldown":    "60s",
		"compaction.keep_recent": 6,
		"approval.timeout":       "30s",
		"retry.max_attempts":     3,
		"retry.base":             "500ms",
		"log.level":              "info",
		"log.format":             "text",
	}
	for key, value := range defaults {
		_ = k.Set(key, value)
	}
}

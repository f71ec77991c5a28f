// Package config provides configuration loading for agentmem.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fyrsmithlabs/agentmem/internal/logging"
	"github.com/fyrsmithlabs/agentmem/pkg/anchor"
	"github.com/fyrsmithlabs/agentmem/pkg/llm"
	"github.com/fyrsmithlabs/agentmem/pkg/observer"
	"github.com/fyrsmithlabs/agentmem/pkg/reflector"
	"github.com/fyrsmithlabs/agentmem/pkg/sanitize"
)

// Config is the full agentmem configuration.
type Config struct {
	Store     StoreConfig     `koanf:"store"`
	Observer  ObserverConfig  `koanf:"observer"`
	Reflector ReflectorConfig `koanf:"reflector"`
	Sanitizer SanitizerConfig `koanf:"sanitizer"`
	Anchor    AnchorConfig    `koanf:"anchor"`
	LLM       llm.Config      `koanf:"llm"`
	Logging   logging.Config  `koanf:"logging"`
}

// StoreConfig locates the on-disk store.
type StoreConfig struct {
	// Root holds everything: memory/, runs/. Defaults to ~/.agentmem.
	Root string `koanf:"root"`
	// Runs overrides the run state directory. Empty means <root>/runs.
	Runs string `koanf:"runs"`
}

// MemoryDir is where observations, audit chain, and sessions live.
func (c StoreConfig) MemoryDir() string { return filepath.Join(c.Root, "memory") }

// ObservationsPath is the observation log file.
func (c StoreConfig) ObservationsPath() string {
	return filepath.Join(c.MemoryDir(), "observations.md")
}

// AuditPath is the audit chain file.
func (c StoreConfig) AuditPath() string { return filepath.Join(c.MemoryDir(), "audit.jsonl") }

// SessionsDir holds per-run transcript buffers.
func (c StoreConfig) SessionsDir() string { return filepath.Join(c.MemoryDir(), "sessions") }

// RunsDir holds run state files.
func (c StoreConfig) RunsDir() string {
	if c.Runs != "" {
		return c.Runs
	}
	return filepath.Join(c.Root, "runs")
}

// ObserverConfig tunes observation extraction.
type ObserverConfig struct {
	ThresholdTokens int `koanf:"threshold_tokens"`
}

// ReflectorConfig tunes log consolidation.
type ReflectorConfig struct {
	ThresholdTokens int `koanf:"threshold_tokens"`
}

// SanitizerConfig tunes content scrubbing.
type SanitizerConfig struct {
	MaxEntryChars int `koanf:"max_entry_chars"`
	// RuleFile points to an optional TOML file with extra rules and
	// allowlist patterns.
	RuleFile string `koanf:"rule_file"`
}

// AnchorConfig tunes task drift detection.
type AnchorConfig struct {
	DriftThreshold float64 `koanf:"drift_threshold"`
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Store.Root == "" {
		return fmt.Errorf("store.root is required")
	}
	if c.Observer.ThresholdTokens <= 0 {
		return fmt.Errorf("observer.threshold_tokens must be positive, got %d", c.Observer.ThresholdTokens)
	}
	if c.Reflector.ThresholdTokens <= 0 {
		return fmt.Errorf("reflector.threshold_tokens must be positive, got %d", c.Reflector.ThresholdTokens)
	}
	if c.Sanitizer.MaxEntryChars < sanitize.MinEntryChars {
		return fmt.Errorf("sanitizer.max_entry_chars must be at least %d, got %d", sanitize.MinEntryChars, c.Sanitizer.MaxEntryChars)
	}
	if c.Anchor.DriftThreshold < 0 || c.Anchor.DriftThreshold >= 1 {
		return fmt.Errorf("anchor.drift_threshold must be in [0, 1), got %v", c.Anchor.DriftThreshold)
	}
	switch c.LLM.Provider {
	case "", "anthropic", "openai", "fake":
	default:
		return fmt.Errorf("llm.provider must be one of anthropic, openai, fake (or empty to disable), got %q", c.LLM.Provider)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}

// applyDefaults fills in missing values.
func applyDefaults(cfg *Config) {
	if cfg.Store.Root == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.Store.Root = filepath.Join(home, ".agentmem")
		}
	}
	if cfg.Observer.ThresholdTokens == 0 {
		cfg.Observer.ThresholdTokens = observer.DefaultThresholdTokens
	}
	if cfg.Reflector.ThresholdTokens == 0 {
		cfg.Reflector.ThresholdTokens = reflector.DefaultThresholdTokens
	}
	if cfg.Sanitizer.MaxEntryChars == 0 {
		cfg.Sanitizer.MaxEntryChars = sanitize.DefaultMaxEntryChars
	}
	if cfg.Anchor.DriftThreshold == 0 {
		cfg.Anchor.DriftThreshold = anchor.DefaultThreshold
	}
	if cfg.Logging.Level == "" || cfg.Logging.Format == "" {
		def := logging.DefaultConfig()
		if cfg.Logging.Level == "" {
			cfg.Logging.Level = def.Level
		}
		if cfg.Logging.Format == "" {
			cfg.Logging.Format = def.Format
		}
	}
}

// Default returns the configuration with every default applied and no
// file or environment input.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

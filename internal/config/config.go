// Package config holds the YAML-driven configuration for the editing
// pipeline core: preview/auto-confirm policy, IO root allowlist, logging,
// and observability storage location.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PreviewMode selects how staged edits are rendered for the user.
type PreviewMode string

const (
	PreviewCodeBlocks PreviewMode = "code_blocks"
	PreviewUnifiedDiff PreviewMode = "unified_diff"
)

// SymlinkPolicy controls how the IO Actor treats symlinks that would
// resolve outside the configured roots.
type SymlinkPolicy string

const (
	SymlinkDenyCrossRoot SymlinkPolicy = "deny_cross_root"
	SymlinkAllow         SymlinkPolicy = "allow"
)

// EditingConfig controls staging/preview/auto-confirm behavior.
type EditingConfig struct {
	PreviewMode     PreviewMode `yaml:"preview_mode"`
	MaxPreviewLines uint32      `yaml:"max_preview_lines"`
	AutoConfirm     bool        `yaml:"auto_confirm"`
}

// IOConfig controls the IO Actor's root allowlist and symlink policy.
type IOConfig struct {
	Roots         []string      `yaml:"roots"`
	SymlinkPolicy SymlinkPolicy `yaml:"symlink_policy"`
}

// LoggingConfig controls the category-based file logger.
type LoggingConfig struct {
	DebugMode bool `yaml:"debug_mode"`
}

// ObservabilityConfig points at the time-travel relation database.
type ObservabilityConfig struct {
	DBPath string `yaml:"db_path"`
}

// Config is the root configuration object.
type Config struct {
	Editing       EditingConfig       `yaml:"editing"`
	IO            IOConfig            `yaml:"io"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// DefaultConfig returns sensible defaults for a freshly initialized workspace.
func DefaultConfig(workspaceRoot string) *Config {
	return &Config{
		Editing: EditingConfig{
			PreviewMode:     PreviewCodeBlocks,
			MaxPreviewLines: 200,
			AutoConfirm:     false,
		},
		IO: IOConfig{
			Roots:         []string{workspaceRoot},
			SymlinkPolicy: SymlinkDenyCrossRoot,
		},
		Logging: LoggingConfig{
			DebugMode: false,
		},
		Observability: ObservabilityConfig{
			DBPath: ".weave/weave.db",
		},
	}
}

// Load reads a YAML config from path, falling back to DefaultConfig if the
// file does not exist.
func Load(path, workspaceRoot string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultConfig(workspaceRoot), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig(workspaceRoot)
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to path as YAML.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

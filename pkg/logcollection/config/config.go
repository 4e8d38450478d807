package config

import (
	"fmt"
)

// ===== SINK CONFIGURATION =====

// LogSinkConfig controls per-app log capture
type LogSinkConfig struct {
	// Directory holds <app_id>.log files; empty keeps logs in memory only
	Directory string `yaml:"directory"`

	// MaxLines is the in-memory window per app and the cap for reads
	MaxLines int `yaml:"max_lines"`

	Rotation RotationConfig `yaml:"rotation"`
}

// RotationConfig defines log file rotation settings
type RotationConfig struct {
	MaxSizeMB  int  `yaml:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days"`
	Compress   bool `yaml:"compress"`
}

const DefaultMaxLines = 2000

// ===== VALIDATION =====

// Validate checks if the configuration is valid
func (c *LogSinkConfig) Validate() error {
	if c.MaxLines <= 0 {
		return fmt.Errorf("max_lines must be positive, got %d", c.MaxLines)
	}

	if err := c.Rotation.Validate(); err != nil {
		return fmt.Errorf("rotation config: %w", err)
	}

	return nil
}

// Validate checks if the rotation configuration is valid
func (r *RotationConfig) Validate() error {
	if r.MaxSizeMB < 0 {
		return fmt.Errorf("max_size_mb cannot be negative")
	}
	if r.MaxBackups < 0 {
		return fmt.Errorf("max_backups cannot be negative")
	}
	if r.MaxAgeDays < 0 {
		return fmt.Errorf("max_age_days cannot be negative")
	}
	return nil
}

// ===== DEFAULT CONFIGURATIONS =====

// DefaultLogSinkConfig returns the default sink configuration writing under directory
func DefaultLogSinkConfig(directory string) LogSinkConfig {
	return LogSinkConfig{
		Directory: directory,
		MaxLines:  DefaultMaxLines,
		Rotation: RotationConfig{
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
	}
}

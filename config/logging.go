package config

import (
	"errors"
	"fmt"
)

// Audit log backends.
const (
	LogBackendJSONL  = "jsonl"
	LogBackendSQLite = "sqlite"
	LogBackendNone   = "none"
)

// LoggingConfig selects where dispatch decisions are recorded.
type LoggingConfig struct {
	Backend string `json:"backend"`
	Path    string `json:"path"`
	// Rotation applies to the jsonl backend only. Zero MaxSizeMB disables it.
	MaxSizeMB  int `json:"max_size_mb"`
	MaxBackups int `json:"max_backups"`
	MaxAgeDays int `json:"max_age_days"`
}

func (c *LoggingConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = LogBackendJSONL
	}
	if c.Path != "" {
		return
	}
	switch c.Backend {
	case LogBackendSQLite:
		c.Path = "dispatch_log.db"
	case LogBackendJSONL:
		c.Path = "dispatch_log.jsonl"
	}
}

func (c LoggingConfig) Validate() error {
	switch c.Backend {
	case LogBackendNone:
		return nil
	case LogBackendJSONL, LogBackendSQLite:
	default:
		return fmt.Errorf("backend %q: want jsonl, sqlite or none", c.Backend)
	}
	if c.Path == "" {
		return errors.New("path is required")
	}
	if c.MaxSizeMB < 0 || c.MaxBackups < 0 || c.MaxAgeDays < 0 {
		return errors.New("rotation limits must not be negative")
	}
	return nil
}

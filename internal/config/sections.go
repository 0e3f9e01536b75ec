package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"plantlab/internal/core"
)

// StorageConfig selects the persistent store.
type StorageConfig struct {
	Driver      string `json:"driver"`
	SQLitePath  string `json:"sqlite_path"`
	PostgresDSN string `json:"postgres_dsn"`
}

// SetDefaults uses a local SQLite file.
func (c *StorageConfig) SetDefaults() {
	if c.Driver == "" {
		c.Driver = string(core.StorageSQLite)
	}
	if c.Driver == string(core.StorageSQLite) && c.SQLitePath == "" {
		c.SQLitePath = "./data/plantlab.db"
	}
}

// Validate checks the driver and its connection settings.
func (c StorageConfig) Validate() error {
	switch core.StorageDriver(c.Driver) {
	case core.StorageMemory, core.StorageSQLite:
	case core.StoragePostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("postgres_dsn is required")
		}
	default:
		return fmt.Errorf("unknown driver %s", c.Driver)
	}
	return nil
}

// Options converts the section for core.OpenPersistentStore.
func (c StorageConfig) Options() core.StorageOptions {
	return core.StorageOptions{
		Driver:      core.StorageDriver(c.Driver),
		SQLitePath:  c.SQLitePath,
		PostgresDSN: c.PostgresDSN,
	}
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr                   string `json:"addr"`
	ReadTimeoutSeconds     int    `json:"read_timeout_seconds"`
	WriteTimeoutSeconds    int    `json:"write_timeout_seconds"`
	ShutdownTimeoutSeconds int    `json:"shutdown_timeout_seconds"`
}

func (c *HTTPConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
	if c.ReadTimeoutSeconds == 0 {
		c.ReadTimeoutSeconds = 15
	}
	if c.WriteTimeoutSeconds == 0 {
		c.WriteTimeoutSeconds = 60
	}
	if c.ShutdownTimeoutSeconds == 0 {
		c.ShutdownTimeoutSeconds = 10
	}
}

func (c HTTPConfig) Validate() error {
	if c.ReadTimeoutSeconds < 0 || c.WriteTimeoutSeconds < 0 || c.ShutdownTimeoutSeconds < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	return nil
}

// ReadTimeout returns the read timeout as a duration.
func (c HTTPConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

// WriteTimeout returns the write timeout as a duration.
func (c HTTPConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

// ShutdownTimeout bounds graceful shutdown.
func (c HTTPConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// LoggingConfig sets the minimum log level.
type LoggingConfig struct {
	Level string `json:"level"`
}

func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
}

func (c LoggingConfig) Validate() error {
	if _, err := zerolog.ParseLevel(strings.ToLower(c.Level)); err != nil {
		return fmt.Errorf("unknown level %s", c.Level)
	}
	return nil
}

// ReportsConfig tunes the export worker.
type ReportsConfig struct {
	QueueSize        int    `json:"queue_size"`
	KeyPrefix        string `json:"key_prefix"`
	RetentionMinutes int    `json:"retention_minutes"`
}

func (c *ReportsConfig) SetDefaults() {
	if c.QueueSize == 0 {
		c.QueueSize = 32
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "reports"
	}
	if c.RetentionMinutes == 0 {
		c.RetentionMinutes = 60
	}
}

// Retention is how long finished reports stay listed.
func (c ReportsConfig) Retention() time.Duration {
	return time.Duration(c.RetentionMinutes) * time.Minute
}

func (c ReportsConfig) Validate() error {
	if c.QueueSize < 1 {
		return fmt.Errorf("queue_size must be positive")
	}
	if c.RetentionMinutes < 1 {
		return fmt.Errorf("retention_minutes must be positive")
	}
	return nil
}

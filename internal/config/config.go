// Package config loads plantlab settings from defaults, an optional YAML or
// JSON file and PLANTLAB_ environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"plantlab/internal/blob"
	"plantlab/internal/planning"
)

// EnvPrefix marks environment overrides; "__" separates nested keys, e.g.
// PLANTLAB_STORAGE__SQLITE_PATH=/var/lib/plantlab.db.
const EnvPrefix = "PLANTLAB_"

// Config is the root configuration document.
type Config struct {
	Storage  StorageConfig   `json:"storage"`
	Blob     blob.Config     `json:"blob"`
	HTTP     HTTPConfig      `json:"http"`
	Logging  LoggingConfig   `json:"logging"`
	Planning planning.Params `json:"planning"`
	Reports  ReportsConfig   `json:"reports"`
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() Config {
	cfg := Config{Planning: planning.DefaultParams()}
	cfg.SetDefaults()
	return cfg
}

// Load reads path (may be empty) and then applies environment overrides.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		parser, err := parserFor(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	cfg := Defaults()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return json.Parser(), nil
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// SetDefaults fills every empty section.
func (c *Config) SetDefaults() {
	c.Storage.SetDefaults()
	c.HTTP.SetDefaults()
	c.Logging.SetDefaults()
	c.Reports.SetDefaults()
	if c.Blob.Driver == "" {
		c.Blob.Driver = blob.DriverFilesystem
	}
	if c.Blob.Driver == blob.DriverFilesystem && c.Blob.FSRoot == "" {
		c.Blob.FSRoot = "./data/blobs"
	}
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Reports.Validate(); err != nil {
		return fmt.Errorf("reports: %w", err)
	}
	if err := c.Planning.Validate(); err != nil {
		return fmt.Errorf("planning: %w", err)
	}
	switch c.Blob.Driver {
	case blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if c.Blob.S3.Bucket == "" {
			return fmt.Errorf("blob: s3 bucket is required")
		}
	default:
		return fmt.Errorf("blob: unknown driver %s", c.Blob.Driver)
	}
	return nil
}

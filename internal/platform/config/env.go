// Package config loads catalogcore runtime settings from the environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"

	"catalogcore/internal/blob"
)

// Config is the process configuration. Every field maps to a CATALOGCORE_*
// variable.
type Config struct {
	LogMode string `env:"CATALOGCORE_LOG_MODE" envDefault:"dev"`

	Storage   Storage   `envPrefix:"CATALOGCORE_"`
	ChangeLog ChangeLog `envPrefix:"CATALOGCORE_CHANGELOG_"`
	Pipeline  Pipeline  `envPrefix:"CATALOGCORE_"`

	// EntityRegistryPath points at an entity registry YAML file. The built-in
	// registry is used when empty.
	EntityRegistryPath string `env:"CATALOGCORE_ENTITY_REGISTRY"`

	// PluginConfigPath points at a YAML file overriding plugin configs.
	PluginConfigPath string `env:"CATALOGCORE_PLUGIN_CONFIG"`

	// RedactionsPath points at a YAML file listing fields hidden from reads.
	RedactionsPath string `env:"CATALOGCORE_REDACTIONS"`

	OTel OTel `envPrefix:"CATALOGCORE_OTEL_"`
}

// Storage selects the record store.
type Storage struct {
	Driver      string `env:"STORAGE_DRIVER" envDefault:"sqlite"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"./catalogcore.db"`
	PostgresDSN string `env:"POSTGRES_DSN"`
}

// ChangeLog selects the change-log archive.
type ChangeLog struct {
	Driver string        `env:"DRIVER" envDefault:"none"`
	Prefix string        `env:"PREFIX" envDefault:"changelog"`
	S3     blob.S3Config `envPrefix:"S3_"`
}

// Pipeline tunes the write pipeline.
type Pipeline struct {
	MaxSideEffectDepth   int  `env:"MAX_SIDE_EFFECT_DEPTH" envDefault:"5"`
	MaxConcurrentBatches int  `env:"MAX_CONCURRENT_BATCHES" envDefault:"4"`
	DuplicateCheck       bool `env:"DUPLICATE_CHECK" envDefault:"true"`
}

// OTel configures trace export. Tracing stays off while Endpoint is empty.
type OTel struct {
	Endpoint string `env:"ENDPOINT"`
	Enabled  bool   `env:"ENABLED" envDefault:"true"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses Config and checks the values that cannot be expressed as tags.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports inconsistent settings.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("CATALOGCORE_POSTGRES_DSN is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.ChangeLog.Driver {
	case "none", "memory":
	case "s3":
		if c.ChangeLog.S3.Bucket == "" {
			return fmt.Errorf("CATALOGCORE_CHANGELOG_S3_BUCKET is required for the s3 change log driver")
		}
	default:
		return fmt.Errorf("unknown change log driver %q", c.ChangeLog.Driver)
	}
	if c.Pipeline.MaxSideEffectDepth < 0 {
		return fmt.Errorf("max side effect depth must not be negative, got %d", c.Pipeline.MaxSideEffectDepth)
	}
	if c.Pipeline.MaxConcurrentBatches < 1 {
		return fmt.Errorf("max concurrent batches must be positive, got %d", c.Pipeline.MaxConcurrentBatches)
	}
	return nil
}

// TracingEnabled reports whether an OTLP exporter should be installed.
func (o OTel) TracingEnabled() bool {
	return o.Enabled && o.Endpoint != ""
}

// Package config loads service configuration from an optional YAML
// file overlaid with DDSA_-prefixed environment variables.
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

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Storage   StorageConfig   `koanf:"storage"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	Admission AdmissionConfig `koanf:"admission"`
	Tenants   []TenantConfig  `koanf:"tenants"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

type StorageConfig struct {
	// Path is the SQLite database file holding stage configuration,
	// traces, and DDS state.
	Path string `koanf:"path"`
}

type PipelineConfig struct {
	// StageTimeoutMs bounds each stage invocation unless the stage
	// config overrides it.
	StageTimeoutMs int `koanf:"stage_timeout_ms"`
}

type AdmissionConfig struct {
	// DSN selects the shared Postgres kill-switch store. Empty means
	// the process-local in-memory gate.
	DSN string `koanf:"dsn"`
}

type TenantConfig struct {
	ID             string   `koanf:"id"`
	Name           string   `koanf:"name"`
	DisabledStages []string `koanf:"disabled_stages"`
	RedactPII      bool     `koanf:"redact_pii"`
}

// StageTimeout returns the configured stage timeout as a duration.
func (c PipelineConfig) StageTimeout() time.Duration {
	return time.Duration(c.StageTimeoutMs) * time.Millisecond
}

// Load reads configuration. path may be empty to use env vars only.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("DDSA_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "DDSA_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	// Default values
	if !k.Exists("server.port") {
		k.Set("server.port", 8080)
	}
	if !k.Exists("storage.path") {
		k.Set("storage.path", "./data/ddsa.db")
	}
	if !k.Exists("pipeline.stage_timeout_ms") {
		k.Set("pipeline.stage_timeout_ms", 30000)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

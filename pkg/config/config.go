package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultMaxUploadSize caps the raw content of a single upload.
	DefaultMaxUploadSize = 100 * 1024 * 1024

	// DefaultDiskQuota is the advisory cap on aggregated blob size.
	DefaultDiskQuota = 500 * 1024 * 1024
)

// Config holds the client configuration. Values come from
// <data dir>/config.yaml when present; flags may override them.
type Config struct {
	LogLevel  string `yaml:"log_level"`
	JSONLog   bool   `yaml:"json_log"`
	NoCLI     bool   `yaml:"-"`
	DataDir   string `yaml:"-"`
	OutputDir string `yaml:"output_dir"`

	// InsecureSkipVerify disables TLS hostname and chain checks for
	// https:// servers. Off by default; enabling it logs a warning.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`

	AutoReconnect     bool `yaml:"auto_reconnect"`
	ReconnectAttempts int  `yaml:"reconnect_attempts"`

	// MetricsAddr, when non-empty, serves Prometheus metrics on that
	// address (e.g. "127.0.0.1:9190").
	MetricsAddr string `yaml:"metrics_addr"`

	MaxUploadSize int64 `yaml:"max_upload_size"`
	DiskQuota     int64 `yaml:"disk_quota"`
}

// DefaultDataDir returns ~/.hps_cli.
func DefaultDataDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".hps_cli"), nil
}

// Default returns the built-in configuration rooted at dataDir.
func Default(dataDir string) *Config {
	return &Config{
		LogLevel:          "info",
		DataDir:           dataDir,
		OutputDir:         ".",
		AutoReconnect:     true,
		ReconnectAttempts: 5,
		MaxUploadSize:     DefaultMaxUploadSize,
		DiskQuota:         DefaultDiskQuota,
	}
}

// Load reads <dataDir>/config.yaml over the defaults. A missing file is
// not an error.
func Load(dataDir string) (*Config, error) {
	cfg := Default(dataDir)

	path := filepath.Join(dataDir, "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.ReconnectAttempts <= 0 {
		cfg.ReconnectAttempts = 5
	}
	if cfg.MaxUploadSize <= 0 {
		cfg.MaxUploadSize = DefaultMaxUploadSize
	}
	if cfg.DiskQuota <= 0 {
		cfg.DiskQuota = DefaultDiskQuota
	}
	return cfg, nil
}

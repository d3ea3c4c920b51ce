// Package config loads prompttune settings from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults
const (
	DefaultAddr      = ":8080"
	DefaultLogLevel  = "info"
	DefaultTimeout   = 30 * time.Second
	DefaultCacheTTL  = 30 * time.Minute
	DefaultCacheSize = 128
)

// OptimizerConfig holds the remote optimize endpoint settings
type OptimizerConfig struct {
	Endpoint  string        `yaml:"endpoint"`
	APIKey    string        `yaml:"api_key"`
	Timeout   time.Duration `yaml:"timeout"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
	CacheSize int           `yaml:"cache_size"`
}

// ServerConfig holds the REST API settings
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Config is the complete application configuration
type Config struct {
	DBPath    string          `yaml:"db_path"`
	LogLevel  string          `yaml:"log_level"`
	Server    ServerConfig    `yaml:"server"`
	Optimizer OptimizerConfig `yaml:"optimizer"`
}

// DataDir returns the default data directory
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".prompttune"
	}
	return filepath.Join(home, ".prompttune")
}

// DefaultPath returns the default config file location
func DefaultPath() string {
	return filepath.Join(DataDir(), "config.yaml")
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		DBPath:   filepath.Join(DataDir(), "prompttune.db"),
		LogLevel: DefaultLogLevel,
		Server:   ServerConfig{Addr: DefaultAddr},
		Optimizer: OptimizerConfig{
			Timeout:   DefaultTimeout,
			CacheTTL:  DefaultCacheTTL,
			CacheSize: DefaultCacheSize,
		},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PROMPTTUNE_DB"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("PROMPTTUNE_ENDPOINT"); v != "" {
		c.Optimizer.Endpoint = v
	}
	if v := os.Getenv("PROMPTTUNE_API_KEY"); v != "" {
		c.Optimizer.APIKey = v
	}
	if v := os.Getenv("PROMPTTUNE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("PROMPTTUNE_ADDR"); v != "" {
		c.Server.Addr = v
	}
}

// Validate checks the settings that cannot be defaulted silently
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DBPath) == "" {
		return fmt.Errorf("config: db_path is empty")
	}
	if c.Optimizer.Timeout <= 0 {
		return fmt.Errorf("config: optimizer.timeout must be positive")
	}
	if c.Optimizer.CacheSize < 0 {
		return fmt.Errorf("config: optimizer.cache_size must not be negative")
	}
	if c.Optimizer.CacheTTL < 0 {
		return fmt.Errorf("config: optimizer.cache_ttl must not be negative")
	}
	return nil
}

// Save writes the configuration to path, creating its directory
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

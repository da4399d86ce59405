// Package config loads the gateway configuration from a YAML file and
// applies defaults, so the rest of the codebase only ever sees a fully
// populated Config.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"fount/internal/logging"
)

// Defaults for every tunable delay and bound.
const (
	DefaultAddress      = "localhost:28015"
	DefaultProject      = "fount"
	DefaultRetryDelay   = 1 * time.Second
	DefaultStaleAfter   = 5 * time.Second
	DefaultReadyTimeout = 10 * time.Second
	DefaultWriteTimeout = 10 * time.Second
)

// Store locates the backing document store.
type Store struct {
	Address  string `yaml:"address"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// Config is the full gateway configuration.
type Config struct {
	Store   Store  `yaml:"store"`
	Project string `yaml:"project"`
	// LegacyDB, when set, names a pre-migration database whose presence is
	// treated as a configuration fault at bootstrap.
	LegacyDB string `yaml:"legacy_db,omitempty"`
	// AutoCreate enables creating the project database, missing collections
	// and missing indexes on demand.
	AutoCreate bool `yaml:"auto_create"`

	RetryDelay   time.Duration `yaml:"retry_delay"`
	StaleAfter   time.Duration `yaml:"stale_after"`
	ReadyTimeout time.Duration `yaml:"ready_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`

	LogLevel string `yaml:"log_level,omitempty"`
}

// Default returns a Config with every field at its default.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads the YAML config at path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Store.Address == "" {
		c.Store.Address = DefaultAddress
	}
	if c.Project == "" {
		c.Project = DefaultProject
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = DefaultReadyTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
}

func (c *Config) validate() error {
	if c.LegacyDB != "" && c.Project == c.LegacyDB {
		return fmt.Errorf("project and legacy_db are both %q", c.Project)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

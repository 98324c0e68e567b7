// config.go - TOML configuration with sane defaults

package main

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config carries the tunables for the scheduler and VM defaults. All fields
// have working defaults so running without a config file is fine.
type Config struct {
	SliceIntervalMs      int    `toml:"slice-interval-ms"`
	CoreStartIndex       int    `toml:"core-start-index"`
	TimeoutMs            int    `toml:"timeout-ms"`
	DefaultResourceLimit uint32 `toml:"default-resource-limit"`
	DefaultPriority      int    `toml:"default-priority"`
	Verbosity            int    `toml:"verbosity"`
}

func DefaultConfig() *Config {
	return &Config{
		SliceIntervalMs:      10,
		CoreStartIndex:       2,
		TimeoutMs:            5000,
		DefaultResourceLimit: DefaultVmResourceLimit,
		DefaultPriority:      5,
		Verbosity:            1,
	}
}

// LoadConfig reads a TOML config file over the defaults. A missing file is
// not an error; a malformed one is.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.SliceIntervalMs <= 0 {
		return fmt.Errorf("slice-interval-ms must be positive, got %d", c.SliceIntervalMs)
	}
	if c.CoreStartIndex < 0 {
		return fmt.Errorf("core-start-index must not be negative, got %d", c.CoreStartIndex)
	}
	if c.TimeoutMs <= 0 {
		return fmt.Errorf("timeout-ms must be positive, got %d", c.TimeoutMs)
	}
	if c.DefaultResourceLimit == 0 {
		return fmt.Errorf("default-resource-limit must be positive")
	}
	return nil
}

package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/samcharles93/nnaccel/internal/driver"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

const envConfig = "NNACCEL_CONFIG"

// Config represents the nnaccel configuration file (~/.config/nnaccel/config.yaml).
// Pointer fields distinguish "not set" from zero values.
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Execution
	Mode     string `yaml:"mode"`
	Device   *int64 `yaml:"device"`
	Simulate *bool  `yaml:"simulate"`

	// Server
	ServerAddress string `yaml:"server_address"`

	Driver DriverConfig `yaml:"driver"`
}

// DriverConfig overrides the device submission timings.
type DriverConfig struct {
	WaitTimeout       *time.Duration `yaml:"wait_timeout"`
	PollIterations    *int           `yaml:"poll_iterations"`
	PollInterval      *time.Duration `yaml:"poll_interval"`
	RecoveryTimeout   *time.Duration `yaml:"recovery_timeout"`
	MapPollIterations *int           `yaml:"map_poll_iterations"`
	MapPollInterval   *time.Duration `yaml:"map_poll_interval"`
}

// settings is the config loaded by setup.
var settings Config

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "nnaccel", "config.yaml")
}

// LoadConfig reads the config file. A missing file yields a zero Config; a
// malformed one is an error.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func applyLoggingConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyExecConfig applies config file defaults to the mode and device flags
// when they were not explicitly set.
func applyExecConfig(c *cli.Command, cfg Config) {
	if cfg.Mode != "" && !c.IsSet("mode") {
		mode = cfg.Mode
	}
	if cfg.Device != nil && !c.IsSet("device") {
		deviceIndex = *cfg.Device
	}
	if cfg.Simulate != nil && !c.IsSet("sim") {
		simulate = *cfg.Simulate
	}
}

func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}

// Apply overlays the set fields on base.
func (d DriverConfig) Apply(base driver.Config) driver.Config {
	if d.WaitTimeout != nil {
		base.WaitTimeout = *d.WaitTimeout
	}
	if d.PollIterations != nil {
		base.PollIterations = *d.PollIterations
	}
	if d.PollInterval != nil {
		base.PollInterval = *d.PollInterval
	}
	if d.RecoveryTimeout != nil {
		base.RecoveryTimeout = *d.RecoveryTimeout
	}
	if d.MapPollIterations != nil {
		base.MapPollIterations = *d.MapPollIterations
	}
	if d.MapPollInterval != nil {
		base.MapPollInterval = *d.MapPollInterval
	}
	return base
}

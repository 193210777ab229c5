// Package config loads the settings of the upkg command.
//
// Values come from defaults, then an optional config file read with viper,
// then UPKG_* environment variables. Command line flags are applied last by
// the caller.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/viper"
)

// Config holds the upkg settings.
type Config struct {
	// Root is the game directory holding the packages.
	Root string `env:"UPKG_ROOT" mapstructure:"root"`
	// TempDir receives decompressed and composite packages.
	TempDir string `env:"UPKG_TEMP_DIR" mapstructure:"temp_dir"`
	// Workers bounds decompression and class loading. Zero uses GOMAXPROCS.
	Workers int `env:"UPKG_WORKERS" mapstructure:"workers"`
	// LogLevel is one of debug, info, warn or error.
	LogLevel string `env:"UPKG_LOG_LEVEL" mapstructure:"log_level"`
	// ClassPackages replaces the default class package list when set.
	ClassPackages []string `env:"UPKG_CLASS_PACKAGES" envSeparator:"," mapstructure:"class_packages"`
	// DumpDir receives the decrypted mapper tables when set.
	DumpDir string `env:"UPKG_DUMP_DIR" mapstructure:"dump_dir"`
	// RebuildIndex ignores the directory index cache.
	RebuildIndex bool `env:"UPKG_REBUILD_INDEX" mapstructure:"rebuild_index"`
	// MetricsAddr serves Prometheus metrics when set.
	MetricsAddr string `env:"UPKG_METRICS_ADDR" mapstructure:"metrics_addr"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Root:     ".",
		LogLevel: "info",
	}
}

// Load returns the settings from path, if not empty, overlaid by the
// environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}
	return nil
}

// ParseEnv loads configuration from environment variables. Unset variables
// keep the current value of their field.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Level returns the slog level named by LogLevel.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("log level %q: %w", c.LogLevel, err)
	}
	return level, nil
}

// Validate reports settings that cannot be used.
func (c *Config) Validate() error {
	var errs []error
	if c.Root == "" {
		errs = append(errs, errors.New("root is required"))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

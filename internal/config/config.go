// Package config loads simulator settings from TOML or YAML files.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/pelletier/go-toml/v2"
	"github.com/vkngwrapper/sflsim/memutils"
	"golang.org/x/exp/slog"
	"gopkg.in/yaml.v3"
)

// Config holds the simulator's settings. The heap geometry itself comes from the script's
// INIT_HEAP command.
type Config struct {
	// LogLevel is one of debug, info, warn, or error
	LogLevel string `toml:"log_level" yaml:"log_level"`
	// DumpFormat is text or json
	DumpFormat string `toml:"dump_format" yaml:"dump_format"`
	Color      bool   `toml:"color" yaml:"color"`
	// ValidateHeap checks heap invariants after every command
	ValidateHeap bool `toml:"validate" yaml:"validate"`
}

func Default() Config {
	return Config{
		LogLevel:   "warn",
		DumpFormat: "text",
	}
}

// Load reads path over the defaults. The format is chosen by extension: .toml, .yaml, or .yml.
func Load(path string) (Config, error) {
	c := Default()

	raw, err := os.ReadFile(path)
	if err != nil {
		return c, errors.Wrapf(err, "failed to read config %s", path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(raw, &c)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &c)
	default:
		return c, errors.Wrapf(memutils.ErrInvalidConfiguration, "unsupported config format %q", filepath.Ext(path))
	}
	if err != nil {
		return c, errors.Wrapf(err, "failed to parse config %s", path)
	}

	return c, c.Validate()
}

func (c Config) Validate() error {
	if _, err := c.Level(); err != nil {
		return err
	}

	switch c.DumpFormat {
	case "text", "json":
	default:
		return errors.Wrapf(memutils.ErrInvalidConfiguration, "dump format %q is not text or json", c.DumpFormat)
	}

	return nil
}

// Level maps LogLevel to a slog level
func (c Config) Level() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}

	return slog.LevelInfo, errors.Wrapf(memutils.ErrInvalidConfiguration, "unknown log level %q", c.LogLevel)
}

package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Logging    LoggingConfig    `toml:"logging" yaml:"logging"`
	Amalgamate AmalgamateConfig `toml:"amalgamate" yaml:"amalgamate"`
	Inputs     []InputConfig    `toml:"inputs" yaml:"inputs" validate:"dive"` // optional batch mode
}

type LoggingConfig struct {
	Level  string   `toml:"level" yaml:"level" validate:"oneof=debug info warn error"` // "debug", "info", "warn", "error"
	Format string   `toml:"format" yaml:"format" validate:"oneof=text json"`           // "text" or "json"
	Output []string `toml:"output" yaml:"output"`                                      // "stdout", "file"
}

// AmalgamateConfig pre-seeds an amalgamation run before any pragma in the
// sources is processed
type AmalgamateConfig struct {
	Output   string          `toml:"output" yaml:"output" validate:"required"` // output directory, relative to each input file
	Comments bool            `toml:"comments" yaml:"comments"`                 // initial comment pass-through
	Paths    []string        `toml:"paths" yaml:"paths"`                       // extra include search paths
	Local    []string        `toml:"local" yaml:"local"`                       // extra local include prefixes
	Revision string          `toml:"revision" yaml:"revision"`                 // override for the default '*' revision command
	Defines  map[string]bool `toml:"defines" yaml:"defines"`                   // forced defines
}

// InputConfig is one batch entry, used when no files are given on the
// command line
type InputConfig struct {
	File   string `toml:"file" yaml:"file" validate:"required"`
	Output string `toml:"output" yaml:"output"` // overrides amalgamate.output for this entry
}

// NewDefaultConfig creates a configuration with default values
func NewDefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: []string{"stdout"},
		},
		Amalgamate: AmalgamateConfig{
			Output:   "output",
			Comments: true,
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier
// files. Files ending in .yaml/.yml are parsed as YAML, everything else as
// TOML.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, config)
		default:
			err = toml.Unmarshal(data, config)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the configuration against its struct tags
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if level := os.Getenv("ACME_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("ACME_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("ACME_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}
	if dir := os.Getenv("ACME_OUTPUT_DIR"); dir != "" {
		config.Amalgamate.Output = dir
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config.
// Command-line flags have the highest priority.
func ApplyFlagOverrides(config *Config, outputDir string, debug bool) {
	if outputDir != "" {
		config.Amalgamate.Output = outputDir
	}
	if debug {
		config.Logging.Level = "debug"
	}
}

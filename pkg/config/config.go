// Package config provides configuration loading and management for turboreg.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"turboreg/pkg/imageio"
	"turboreg/pkg/stack"
	"turboreg/pkg/transform"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Registration parameters
	Registration struct {
		// Transform is the geometric model: translation, rigid-body,
		// scaled-rotation or affine
		Transform string `yaml:"transform"`

		// Accelerated trades accuracy for speed
		Accelerated bool `yaml:"accelerated"`

		// MaxIterations overrides the per-level iteration base when positive
		MaxIterations int `yaml:"maxIterations"`

		// Precision overrides the stopping displacement in pixels when positive
		Precision float64 `yaml:"precision"`

		// CoarseAlign seeds the landmarks with a phase-correlation translation
		CoarseAlign bool `yaml:"coarseAlign"`
	} `yaml:"registration"`

	// Stack alignment parameters
	Stack struct {
		// Mode is reference or propagate
		Mode string `yaml:"mode"`

		// Reference is the index of the slice the others are aligned to
		Reference int `yaml:"reference"`

		// Prefetch prepares the next slice while the current one registers
		Prefetch bool `yaml:"prefetch"`
	} `yaml:"stack"`

	// Input parameters
	Input struct {
		// Signed16 removes the 32768 bias from 16-bit samples
		Signed16 bool `yaml:"signed16"`
	} `yaml:"input"`

	// Output parameters
	Output struct {
		// Format is tiff, png or jpeg
		Format string `yaml:"format"`

		// Rescale stretches sample values to the output range
		Rescale bool `yaml:"rescale"`

		// Float32 writes TIFF output with unscaled 32-bit float samples
		Float32 bool `yaml:"float32"`

		// SaveMask writes the validity mask next to each output image
		SaveMask bool `yaml:"saveMask"`

		// SaveLandmarks writes the refined landmarks as YAML
		SaveLandmarks bool `yaml:"saveLandmarks"`

		// OrthogonalViews writes x and y reslices of aligned stacks
		OrthogonalViews bool `yaml:"orthogonalViews"`
	} `yaml:"output"`

	// Logging parameters
	Logging struct {
		// Level is a logrus level name
		Level string `yaml:"level"`

		// Format is text or json
		Format string `yaml:"format"`
	} `yaml:"logging"`

	// Metrics parameters
	Metrics struct {
		// Textfile is where metrics are written after a run, for the
		// node exporter textfile collector; empty disables the export
		Textfile string `yaml:"textfile"`
	} `yaml:"metrics"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Registration.Transform = transform.RigidBody.String()
	cfg.Registration.Accelerated = false

	cfg.Stack.Mode = stack.ModeReference.String()
	cfg.Stack.Reference = 0
	cfg.Stack.Prefetch = true

	cfg.Output.Format = string(imageio.FormatTIFF)
	cfg.Output.SaveMask = false
	cfg.Output.SaveLandmarks = true

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"

	return cfg
}

// Validate checks the enumerated values
func (c *Config) Validate() error {
	if _, err := transform.ParseType(c.Registration.Transform); err != nil {
		return fmt.Errorf("registration.transform: %w", err)
	}
	if c.Registration.MaxIterations < 0 {
		return fmt.Errorf("registration.maxIterations must not be negative, got %d", c.Registration.MaxIterations)
	}
	if c.Registration.Precision < 0 {
		return fmt.Errorf("registration.precision must not be negative, got %g", c.Registration.Precision)
	}
	if _, err := stack.ParseMode(c.Stack.Mode); err != nil {
		return fmt.Errorf("stack.mode: %w", err)
	}
	if c.Stack.Reference < 0 {
		return fmt.Errorf("stack.reference must not be negative, got %d", c.Stack.Reference)
	}
	if _, err := imageio.FormatFromPath("out." + c.Output.Format); err != nil {
		return fmt.Errorf("output.format: %w", err)
	}
	if c.Output.Float32 && c.Output.Format != string(imageio.FormatTIFF) {
		return fmt.Errorf("output.float32 requires tiff output, got %q", c.Output.Format)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

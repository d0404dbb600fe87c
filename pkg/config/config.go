// Package config provides configuration loading and management for phasereg.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"phasereg/pkg/volume"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Registration parameters
	Registration struct {
		// UpsampleFactor sets the sub-pixel precision to 1/UpsampleFactor pixels
		UpsampleFactor int `yaml:"upsampleFactor"`

		// Axis is the stack axis slices are taken along (x, y or z)
		Axis string `yaml:"axis"`

		// ReferenceIndex is the zero-based index of the fixed slice
		ReferenceIndex int `yaml:"referenceIndex"`

		// Workers is the number of slices aligned concurrently
		Workers int `yaml:"workers"`
	} `yaml:"registration"`

	// Input parameters
	Input struct {
		// Extensions lists the file extensions read from the input directory
		Extensions []string `yaml:"extensions"`
	} `yaml:"input"`

	// Output parameters
	Output struct {
		// SaveAligned writes the aligned slices next to the report
		SaveAligned bool `yaml:"saveAligned"`

		// Format is the image format of saved slices (png, jpeg or tiff)
		Format string `yaml:"format"`

		// ReportFile is the name of the YAML shift report
		ReportFile string `yaml:"reportFile"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Registration.UpsampleFactor = 10
	cfg.Registration.Axis = "z"
	cfg.Registration.ReferenceIndex = 0
	cfg.Registration.Workers = runtime.NumCPU()

	cfg.Input.Extensions = []string{".png", ".jpg", ".jpeg", ".tif", ".tiff"}

	cfg.Output.SaveAligned = true
	cfg.Output.Format = "png"
	cfg.Output.ReportFile = "shifts.yaml"
	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

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
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}

	return cfg, nil
}

// Validate checks that every value is usable by the alignment pipeline.
func (c *Config) Validate() error {
	if c.Registration.UpsampleFactor < 1 {
		return fmt.Errorf("registration.upsampleFactor must be at least 1, got %d", c.Registration.UpsampleFactor)
	}
	if _, err := volume.ParseAxis(c.Registration.Axis); err != nil {
		return fmt.Errorf("registration.axis: %w", err)
	}
	if c.Registration.ReferenceIndex < 0 {
		return fmt.Errorf("registration.referenceIndex must be non-negative, got %d", c.Registration.ReferenceIndex)
	}
	if c.Registration.Workers < 1 {
		return fmt.Errorf("registration.workers must be at least 1, got %d", c.Registration.Workers)
	}
	if len(c.Input.Extensions) == 0 {
		return fmt.Errorf("input.extensions must not be empty")
	}
	for _, ext := range c.Input.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("input.extensions: %q must start with a dot", ext)
		}
	}
	if _, err := volume.ParseFormat(c.Output.Format); err != nil {
		return fmt.Errorf("output.format: %w", err)
	}
	if c.Output.ReportFile == "" {
		return fmt.Errorf("output.reportFile must not be empty")
	}
	return nil
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

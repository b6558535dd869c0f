// Package config provides configuration loading and management for pointdrift.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"pointdrift/pkg/normalize"
	"pointdrift/pkg/rigid"
	"pointdrift/pkg/runner"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Registration parameters drive the iteration loop
	Registration struct {
		// MaxIterations bounds the number of registration iterations
		MaxIterations int `yaml:"maxIterations"`

		// ErrorChangeThreshold stops the run when the relative error
		// change between iterations drops below it
		ErrorChangeThreshold float64 `yaml:"errorChangeThreshold"`

		// Sigma2Threshold stops the run when the bandwidth drops below it
		Sigma2Threshold float64 `yaml:"sigma2Threshold"`

		// OutlierWeight is the prior outlier probability, in [0, 1]
		OutlierWeight float64 `yaml:"outlierWeight"`

		// Normalize is the normalization strategy:
		// "same-scale", "independent", or "none"
		Normalize string `yaml:"normalize"`

		// InitialSigma2 overrides the computed starting bandwidth when
		// positive; zero means compute it from the matrices
		InitialSigma2 float64 `yaml:"initialSigma2"`
	} `yaml:"registration"`

	// Rigid parameters configure the rigid registration method
	Rigid struct {
		// Scale enables solving for a uniform scale
		Scale bool `yaml:"scale"`

		// AllowReflections permits the rotation to be a reflection
		AllowReflections bool `yaml:"allowReflections"`
	} `yaml:"rigid"`

	// Processing parameters
	Processing struct {
		// NumCores specifies how many CPU cores to use for the
		// correspondence computation
		NumCores int `yaml:"numCores"`
	} `yaml:"processing"`

	// Output parameters
	Output struct {
		// Verbose controls per-iteration progress output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default registration parameters
	cfg.Registration.MaxIterations = runner.DefaultMaxIterations
	cfg.Registration.ErrorChangeThreshold = runner.DefaultErrorChangeThreshold
	cfg.Registration.Sigma2Threshold = runner.DefaultSigma2Threshold
	cfg.Registration.OutlierWeight = runner.DefaultOutlierWeight
	cfg.Registration.Normalize = normalize.SameScale.String()

	// Set default rigid parameters
	cfg.Rigid.Scale = false
	cfg.Rigid.AllowReflections = false

	// Set default processing parameters
	cfg.Processing.NumCores = runtime.NumCPU() // Use all available cores by default

	// Set default output parameters
	cfg.Output.Verbose = false

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
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

// Runner builds a runner from the registration and processing sections.
// The configuration is still validated by the runner itself at run time.
func (cfg *Config) Runner() (*runner.Runner, error) {
	strategy, err := normalize.ParseStrategy(cfg.Registration.Normalize)
	if err != nil {
		return nil, fmt.Errorf("error building runner: %w", err)
	}
	r := runner.New()
	r.MaxIterations = cfg.Registration.MaxIterations
	r.ErrorChangeThreshold = cfg.Registration.ErrorChangeThreshold
	r.Sigma2Threshold = cfg.Registration.Sigma2Threshold
	r.OutlierWeight = cfg.Registration.OutlierWeight
	r.Normalize = strategy
	r.InitialSigma2 = cfg.Registration.InitialSigma2
	r.Workers = cfg.Processing.NumCores
	return r, nil
}

// RigidMethod builds the rigid registration method from the rigid section
func (cfg *Config) RigidMethod() rigid.Rigid {
	return rigid.Rigid{
		Scale:            cfg.Rigid.Scale,
		AllowReflections: cfg.Rigid.AllowReflections,
	}
}

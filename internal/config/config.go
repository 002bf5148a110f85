/*
PURPOSE:
  Defines the configuration structure and loading logic for Sheet Runner.
  Adheres to "Config IS Code" philosophy.

REQUIREMENTS:
  User-specified:
  - Allow configuration of the service URL, output directory, request defaults and grid geometry.

  Implementation-discovered:
  - Needs to support YAML parsing.
  - Needs to support Environment variables overrides (SHEET_RUNNER_...).
  - Seed, step count and model defaults feed the request canonicalization.

ARCHITECTURE INTEGRATION:
  - Used by: internal/cli, internal/engine
  - Dependencies: gopkg.in/yaml.v3 (standard for Go config)

ERROR HANDLING:
  - Returns explicit error if config file is invalid.
  - Missing default config files fall back to defaults.

IMPLEMENTATION RULES:
  - Config struct tags should support yaml.
  - Defaults reproduce the reference end-to-end run (256px cells, 4 columns, seed 1234567, 25 steps).

USAGE:
  cfg, err := config.Load("sheet_runner.yaml")

SELF-HEALING INSTRUCTIONS:
  - If new fields are needed, add to Config struct and update DefaultConfig().

RELATED FILES:
  - internal/cli/root.go

MAINTENANCE:
  - Update when adding new tuning parameters.
*/

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/daryltucker/sheet-runner/internal/model"
	"gopkg.in/yaml.v3"
)

// Environment overrides.
const (
	EnvURL       = "SHEET_RUNNER_URL"
	EnvOutputDir = "SHEET_RUNNER_OUTPUT_DIR"
)

// GridConfig controls contact sheet geometry.
type GridConfig struct {
	Columns       int `yaml:"columns"`
	CellSize      int `yaml:"cell_size"`
	CaptionHeight int `yaml:"caption_height"`
	Wrap          int `yaml:"wrap"`
}

// PlaceholderConfig controls failure placeholder rendering.
type PlaceholderConfig struct {
	Size   int `yaml:"size"`
	Wrap   int `yaml:"wrap"`
	Margin int `yaml:"margin"`
}

// Config represents the full configuration for Sheet Runner.
type Config struct {
	URL          string `yaml:"url"`
	OutputDir    string `yaml:"output_dir"`
	ImageExt     string `yaml:"image_ext"`
	ScenarioFile string `yaml:"scenario_file"` // Empty means the embedded default battery

	Seed          int64  `yaml:"seed"`
	Steps         int    `yaml:"steps"`
	DefaultModel  string `yaml:"default_model"`
	Checkpoint    string `yaml:"checkpoint"`
	CheckpointURL string `yaml:"checkpoint_url"`

	Grid        GridConfig        `yaml:"grid"`
	Placeholder PlaceholderConfig `yaml:"placeholder"`

	RequestTimeout    time.Duration `yaml:"request_timeout"`
	PollInterval      time.Duration `yaml:"poll_interval"`
	InvocationTimeout time.Duration `yaml:"invocation_timeout"`

	// ReuseFailures also treats "<name> (<Kind>)" results as cached.
	ReuseFailures bool `yaml:"reuse_failures"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		URL:           "http://localhost:45554",
		OutputDir:     "test-results/e2e",
		ImageExt:      "png",
		Seed:          1234567,
		Steps:         25,
		DefaultModel:  "realisticVisionV40_v40VAE.safetensors",
		Checkpoint:    "realisticVisionV40_v40VAE.safetensors",
		CheckpointURL: "https://civitai.com/api/download/models/114367",
		Grid: GridConfig{
			Columns:       4,
			CellSize:      256,
			CaptionHeight: 50,
			Wrap:          40,
		},
		Placeholder: PlaceholderConfig{
			Size:   256,
			Wrap:   40,
			Margin: 5,
		},
		RequestTimeout:    60 * time.Second,
		PollInterval:      2 * time.Second,
		InvocationTimeout: 30 * time.Minute,
		LogLevel:          "info",
		LogFormat:         "text",
	}
}

// Defaults returns the request baseline derived from the config.
func (c *Config) Defaults() model.Defaults {
	return model.Defaults{
		Seed:  c.Seed,
		Steps: c.Steps,
		Model: c.DefaultModel,
	}
}

// Validate reports settings that would make a run meaningless.
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("url must be set")
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output_dir must be set")
	}
	if c.Grid.Columns < 1 {
		return fmt.Errorf("grid.columns must be positive, got %d", c.Grid.Columns)
	}
	if c.Grid.CellSize < 1 {
		return fmt.Errorf("grid.cell_size must be positive, got %d", c.Grid.CellSize)
	}
	if c.Placeholder.Size < 1 {
		return fmt.Errorf("placeholder.size must be positive, got %d", c.Placeholder.Size)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	switch strings.TrimPrefix(strings.ToLower(c.ImageExt), ".") {
	case "", "png", "jpg", "jpeg":
	default:
		return fmt.Errorf("image_ext must be png, jpg or jpeg, got %q", c.ImageExt)
	}
	return nil
}

// Load reads configuration from a file.
// If path is specified, it attempts to load that file.
// If path is empty, it searches for default files in order.
// If no file found, returns default config.
// Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	var data []byte
	var err error

	if path != "" {
		data, err = os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
	} else {
		defaults := []string{"sheet_runner.yaml", "runner.yaml"}
		for _, name := range defaults {
			data, err = os.ReadFile(name)
			if err == nil {
				path = name
				break
			}
		}
	}

	if path != "" {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv(EnvURL); ok && v != "" {
		cfg.URL = v
	}
	if v, ok := os.LookupEnv(EnvOutputDir); ok && v != "" {
		cfg.OutputDir = v
	}
}

// Package config loads and saves user settings for the aligner.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"rgb-aligner/internal/alignment"
	"rgb-aligner/internal/features"
)

const (
	appDir     = "rgb-aligner"
	configFile = "config.json"

	// EnvPath overrides the config file location.
	EnvPath = "RGBALIGN_CONFIG"
)

// Config holds user-editable settings.
type Config struct {
	Alignment Alignment `json:"alignment"`
	Logging   Logging   `json:"logging"`
}

// Alignment mirrors alignment.Options in a serialisable form.
type Alignment struct {
	MaxFeatures        int     `json:"max_features"`
	MinCorrespondences int     `json:"min_correspondences"`
	Threshold          float64 `json:"ransac_threshold"`
	MaxIterations      int     `json:"max_iterations"`
	Confidence         float64 `json:"confidence"`
	RefineIterations   int     `json:"refine_iterations"`
	MinInlierRatio     float64 `json:"min_inlier_ratio"`
	Seed               int64   `json:"seed"`
	Interpolation      string  `json:"interpolation"` // bilinear, nearest, approx-bilinear, catmull-rom
	Resampler          string  `json:"resampler"`     // draw, opencv
	Matcher            string  `json:"matcher"`       // bf, hamming
	// AllowFeatureless passes channels without features through unaligned;
	// when false they fail the run.
	AllowFeatureless   bool    `json:"allow_featureless"`
}

// Logging controls logging verbosity and format.
type Logging struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text, json
}

// Default returns the built-in configuration.
func Default() *Config {
	opts := alignment.DefaultOptions()
	return &Config{
		Alignment: Alignment{
			MaxFeatures:        opts.MaxFeatures,
			MinCorrespondences: opts.Estimate.MinCorrespondences,
			Threshold:          opts.Estimate.Threshold,
			MaxIterations:      opts.Estimate.MaxIterations,
			Confidence:         opts.Estimate.Confidence,
			RefineIterations:   opts.Estimate.RefineIterations,
			MinInlierRatio:     opts.Estimate.MinInlierRatio,
			Seed:               opts.Estimate.Seed,
			Interpolation:      opts.Interpolation.String(),
			Resampler:          opts.Resampler.String(),
			Matcher:            "bf",
			AllowFeatureless:   opts.EmptyFeatures == alignment.PassThroughEmpty,
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultPath returns $RGBALIGN_CONFIG or ~/.config/rgb-aligner/config.json.
func DefaultPath() string {
	if p := os.Getenv(EnvPath); p != "" {
		return p
	}
	configDir, err := os.UserConfigDir()
	if err != nil {
		configDir = filepath.Join(os.Getenv("HOME"), ".config")
	}
	return filepath.Join(configDir, appDir, configFile)
}

// Load reads the config at path over the defaults. A missing file is not
// an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path, creating the directory if needed.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// Validate checks that every setting can be turned into engine options.
func (c *Config) Validate() error {
	if _, err := c.AlignmentOptions(); err != nil {
		return err
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}
	return nil
}

// AlignmentOptions converts the alignment section into engine options.
// Extractor and Logger are left for the caller.
func (c *Config) AlignmentOptions() (alignment.Options, error) {
	a := c.Alignment
	opts := alignment.DefaultOptions()

	if a.MaxFeatures <= 0 {
		return opts, fmt.Errorf("max features must be positive, got %d", a.MaxFeatures)
	}
	opts.MaxFeatures = a.MaxFeatures
	opts.Estimate = alignment.EstimateOptions{
		MinCorrespondences: a.MinCorrespondences,
		Threshold:          a.Threshold,
		MaxIterations:      a.MaxIterations,
		Confidence:         a.Confidence,
		RefineIterations:   a.RefineIterations,
		MinInlierRatio:     a.MinInlierRatio,
		Seed:               a.Seed,
	}
	if err := opts.Estimate.Validate(); err != nil {
		return opts, err
	}

	var err error
	if opts.Interpolation, err = alignment.ParseInterpolation(a.Interpolation); err != nil {
		return opts, err
	}
	if opts.Resampler, err = alignment.ParseResampler(a.Resampler); err != nil {
		return opts, err
	}
	if opts.Matcher, err = features.NewMatcher(a.Matcher); err != nil {
		return opts, err
	}
	opts.EmptyFeatures = alignment.PassThroughEmpty
	if !a.AllowFeatureless {
		opts.EmptyFeatures = alignment.FailOnEmpty
	}
	return opts, nil
}

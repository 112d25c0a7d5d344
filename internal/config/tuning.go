// Package config loads the site tuning file: the calibrated decay-model
// coefficients plus the smoothing, bucketing and filtering constants the
// localization engine consumes.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/wildtrack-data/telemetry.report/internal/telemetry"
)

// TuningConfig is the root tuning document. Every field is optional in the
// JSON file except the decay coefficients, which are site-specific and have
// no meaningful defaults. Pointer fields distinguish "omitted" from "zero"
// so partial configs are safe.
type TuningConfig struct {
	// Decay model coefficients, fitted once per site from reference
	// transmissions at known ranges.
	DecayA *float64 `json:"decay_a,omitempty"`
	DecayS *float64 `json:"decay_s,omitempty"`
	DecayK *float64 `json:"decay_k,omitempty"`

	// Signal conditioning
	WindowMinutes *int    `json:"window_minutes,omitempty"`
	BucketWidth   *string `json:"bucket_width,omitempty"` // duration string like "1m"

	// Candidate filtering
	DistCapMeters *float64 `json:"dist_cap_meters,omitempty"`
	RSSFloorDB    *float64 `json:"rss_floor_db,omitempty"`

	// Solver
	SolverWorkers       *int     `json:"solver_workers,omitempty"`
	SolverMaxIterations *int     `json:"solver_max_iterations,omitempty"`
	SolverTolerance     *float64 `json:"solver_tolerance,omitempty"`
	ConfidenceLevel     *float64 `json:"confidence_level,omitempty"`
}

// LoadTuningConfig loads a TuningConfig from a JSON file. The path must have
// a .json extension and the file must be under 1MB. Omitted fields fall back
// to the Get* defaults.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &TuningConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks the tuning values that can be judged in isolation. Model
// invertibility (a > K, S > 0) is enforced again by the engine config.
func (c *TuningConfig) Validate() error {
	if c.DecayA == nil || c.DecayS == nil || c.DecayK == nil {
		return fmt.Errorf("decay_a, decay_s and decay_k are required (site calibration)")
	}
	if *c.DecayA <= *c.DecayK {
		return fmt.Errorf("decay_a must exceed decay_k, got a=%v k=%v", *c.DecayA, *c.DecayK)
	}
	if *c.DecayS <= 0 {
		return fmt.Errorf("decay_s must be positive, got %v", *c.DecayS)
	}
	if c.WindowMinutes != nil && *c.WindowMinutes < 0 {
		return fmt.Errorf("window_minutes must be non-negative, got %d", *c.WindowMinutes)
	}
	if c.BucketWidth != nil && *c.BucketWidth != "" {
		d, err := time.ParseDuration(*c.BucketWidth)
		if err != nil {
			return fmt.Errorf("invalid bucket_width %q: %w", *c.BucketWidth, err)
		}
		if d <= 0 {
			return fmt.Errorf("bucket_width must be positive, got %q", *c.BucketWidth)
		}
	}
	if c.DistCapMeters != nil && *c.DistCapMeters <= 0 {
		return fmt.Errorf("dist_cap_meters must be positive, got %v", *c.DistCapMeters)
	}
	if c.SolverWorkers != nil && *c.SolverWorkers < 0 {
		return fmt.Errorf("solver_workers must be non-negative, got %d", *c.SolverWorkers)
	}
	if c.SolverMaxIterations != nil && *c.SolverMaxIterations <= 0 {
		return fmt.Errorf("solver_max_iterations must be positive, got %d", *c.SolverMaxIterations)
	}
	if c.SolverTolerance != nil && *c.SolverTolerance <= 0 {
		return fmt.Errorf("solver_tolerance must be positive, got %v", *c.SolverTolerance)
	}
	if c.ConfidenceLevel != nil && (*c.ConfidenceLevel <= 0 || *c.ConfidenceLevel >= 1) {
		return fmt.Errorf("confidence_level must be in (0, 1), got %v", *c.ConfidenceLevel)
	}
	return nil
}

// GetWindowMinutes returns the smoothing half-window or the default.
func (c *TuningConfig) GetWindowMinutes() int {
	if c.WindowMinutes == nil {
		return 2
	}
	return *c.WindowMinutes
}

// GetBucketWidth parses and returns the bucket width as a time.Duration.
func (c *TuningConfig) GetBucketWidth() time.Duration {
	if c.BucketWidth == nil || *c.BucketWidth == "" {
		return time.Minute
	}
	d, err := time.ParseDuration(*c.BucketWidth)
	if err != nil {
		return time.Minute
	}
	return d
}

// GetDistCapMeters returns the relative distance cap or the default.
func (c *TuningConfig) GetDistCapMeters() float64 {
	if c.DistCapMeters == nil {
		return 150
	}
	return *c.DistCapMeters
}

// GetRSSFloorDB returns the RSSI floor or the default.
func (c *TuningConfig) GetRSSFloorDB() float64 {
	if c.RSSFloorDB == nil {
		return -95
	}
	return *c.RSSFloorDB
}

// GetSolverWorkers returns the solver fan-out or 0 (GOMAXPROCS).
func (c *TuningConfig) GetSolverWorkers() int {
	if c.SolverWorkers == nil {
		return 0
	}
	return *c.SolverWorkers
}

// GetSolverMaxIterations returns the iteration cap or the default.
func (c *TuningConfig) GetSolverMaxIterations() int {
	if c.SolverMaxIterations == nil {
		return 50
	}
	return *c.SolverMaxIterations
}

// GetSolverTolerance returns the convergence tolerance or the default.
func (c *TuningConfig) GetSolverTolerance() float64 {
	if c.SolverTolerance == nil {
		return 1e-8
	}
	return *c.SolverTolerance
}

// GetConfidenceLevel returns the interval level or the default 95%.
func (c *TuningConfig) GetConfidenceLevel() float64 {
	if c.ConfidenceLevel == nil {
		return 0.95
	}
	return *c.ConfidenceLevel
}

// EngineConfig assembles the validated telemetry.EngineConfig from the
// tuning document.
func (c *TuningConfig) EngineConfig() telemetry.EngineConfig {
	return telemetry.EngineConfig{
		WindowMinutes: c.GetWindowMinutes(),
		BucketWidth:   c.GetBucketWidth(),
		Model: telemetry.DecayModel{
			A: *c.DecayA,
			S: *c.DecayS,
			K: *c.DecayK,
		},
		DistCapMeters: c.GetDistCapMeters(),
		RSSFloorDB:    c.GetRSSFloorDB(),
		SolverWorkers: c.GetSolverWorkers(),
		Solver: telemetry.SolverConfig{
			MaxIterations:   c.GetSolverMaxIterations(),
			Tolerance:       c.GetSolverTolerance(),
			ConfidenceLevel: c.GetConfidenceLevel(),
		},
	}
}

// Package config captures the runtime knobs for a training run.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
)

// ModelNames is the closed set of classifier architectures.
var ModelNames = []string{"linear", "baseline", "mlp2", "mlp4", "conv", "rnn", "rnn_bi"}

// Config holds the full flag surface of the trainer.
type Config struct {
	ExpDir         string
	TrainData      string
	ValData        string
	TestData       string
	EmotionSetPath string
	CPCPath        string
	ModelOut       string

	Model       string
	WindowSize  int
	BatchSize   int
	Steps       int
	HiddenSize  int
	DropoutProb float64
	LR          float64
	ClipThresh  float64
	BatchNorm   bool
	LRSchedule  bool

	ValidSteps int
	ValEvery   int
	SaveEvery  int

	DryRun bool
	Seed   int64
}

// Validate verifies the config is runnable. Configuration errors are fatal
// before any training state exists.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.ExpDir == "" {
		return errors.New("expdir is required")
	}
	if c.TrainData == "" {
		return errors.New("train_data is required")
	}
	if c.ValData == "" {
		return errors.New("val_data is required")
	}
	if c.EmotionSetPath == "" {
		return errors.New("emotion_set_path is required")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.Steps <= 0 {
		return fmt.Errorf("steps must be > 0 (got %d)", c.Steps)
	}
	if c.WindowSize <= 0 {
		return fmt.Errorf("window_size must be > 0 (got %d)", c.WindowSize)
	}
	if !validModel(c.Model) {
		return fmt.Errorf("unknown model %q (one of %v)", c.Model, ModelNames)
	}
	return nil
}

// ApplyDefaults derives the periodic-event cadence and output path from
// steps when they are unset.
func (c *Config) ApplyDefaults() {
	if c.ValEvery == 0 {
		c.ValEvery = max(100, c.Steps/50)
	}
	if c.SaveEvery == 0 {
		c.SaveEvery = c.ValEvery
	}
	if c.ValidSteps == 0 {
		c.ValidSteps = max(20, c.ValEvery/100)
	}
	if c.ModelOut == "" {
		c.ModelOut = filepath.Join(c.ExpDir, "model.json")
	}
}

// SetupDryRun shrinks the run for a smoke test. Call before ApplyDefaults.
func (c *Config) SetupDryRun() {
	c.Steps = 10
	c.ValEvery = 5
	c.SaveEvery = 5
	c.ValidSteps = 2
}

func validModel(name string) bool {
	for _, m := range ModelNames {
		if m == name {
			return true
		}
	}
	return false
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

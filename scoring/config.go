package scoring

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/harmlens/harmlens/signals"

	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid scoring config")

// Weights are the per-family coefficients of the base score. They must sum to one.
type Weights struct {
	ChildSafety  float64 `yaml:"child_safety" json:"child_safety"`
	Toxicity     float64 `yaml:"toxicity" json:"toxicity"`
	Emotion      float64 `yaml:"emotion" json:"emotion"`
	CallToAction float64 `yaml:"call_to_action" json:"call_to_action"`
	Context      float64 `yaml:"context" json:"context"`
}

func (w Weights) For(f signals.Family) float64 {
	switch f {
	case signals.ChildSafety:
		return w.ChildSafety
	case signals.Toxicity:
		return w.Toxicity
	case signals.Emotion:
		return w.Emotion
	case signals.CallToAction:
		return w.CallToAction
	case signals.Context:
		return w.Context
	}
	return 0
}

// Config holds weights and label thresholds. Scores at or below LowMax are Low, at or below MediumMax are
// Medium, and everything above is High, so the three bands always partition [0,100].
type Config struct {
	Weights   Weights `yaml:"weights" json:"weights"`
	LowMax    int     `yaml:"low_max" json:"low_max"`
	MediumMax int     `yaml:"medium_max" json:"medium_max"`
}

// DefaultConfig is the child-safety-priority weighting.
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			ChildSafety:  0.35,
			Toxicity:     0.30,
			Emotion:      0.20,
			CallToAction: 0.10,
			Context:      0.05,
		},
		LowMax:    49,
		MediumMax: 74,
	}
}

const weightEpsilon = 1e-9

func (c Config) Validate() error {
	sum := 0.0
	for _, f := range signals.Families {
		w := c.Weights.For(f)
		if math.IsNaN(w) || w < 0 || w > 1 {
			return fmt.Errorf("%w: weight for %s must be in [0,1], got %v", ErrInvalidConfig, f, w)
		}
		sum += w
	}
	if math.Abs(sum-1) > weightEpsilon {
		return fmt.Errorf("%w: weights must sum to 1, got %v", ErrInvalidConfig, sum)
	}
	if c.LowMax < 0 || c.LowMax >= c.MediumMax || c.MediumMax >= 100 {
		return fmt.Errorf("%w: thresholds must satisfy 0 <= low_max < medium_max < 100 (got %d, %d)", ErrInvalidConfig, c.LowMax, c.MediumMax)
	}
	return nil
}

// LoadConfig reads a YAML file over the defaults. Fields missing from the file keep their default values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing scoring config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

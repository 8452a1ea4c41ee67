package scoring

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/harmlens/harmlens/signals"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScoreAllZero(t *testing.T) {
	assert := assert.New(t)

	a, err := Score(SignalFixture(nil))
	assert.NoError(err)
	assert.Equal(0, a.Score)
	assert.Equal(LabelLow, a.Label)
	assert.False(a.ChildEscalation)
	assert.False(a.ImmediateActionRequired)
	assert.Empty(a.Overrides)
	assert.Equal([]string{CategoryGeneral}, a.Categories)
}

func TestScoreWeightedBase(t *testing.T) {
	assert := assert.New(t)

	a, err := Score(SignalFixture(map[signals.Family]float64{
		signals.ChildSafety:  1,
		signals.Toxicity:     1,
		signals.Emotion:      1,
		signals.CallToAction: 1,
		signals.Context:      1,
	}))
	assert.NoError(err)
	assert.Equal(100, a.Score)

	a, err = Score(SignalFixture(map[signals.Family]float64{
		signals.Toxicity: 0.5,
		signals.Emotion:  0.5,
	}))
	assert.NoError(err)
	// 0.30*0.5 + 0.20*0.5 = 0.25
	assert.Equal(25, a.Score)
	assert.Equal(0.5, a.Breakdown[signals.Toxicity])
}

func TestScoreChildCombination(t *testing.T) {
	assert := assert.New(t)

	set := SignalFixture(map[signals.Family]float64{
		signals.ChildSafety:  0.9,
		signals.Toxicity:     0.1,
		signals.Emotion:      0.1,
		signals.CallToAction: 0.1,
		signals.Context:      0.1,
	})
	set = WithFlags(set, signals.ChildSafety, signals.FlagChild, signals.FlagDangerCombination)

	a, err := Score(set)
	assert.NoError(err)
	assert.GreaterOrEqual(a.Score, 95)
	assert.Equal(LabelHigh, a.Label)
	assert.True(a.ChildEscalation)
	assert.True(a.ImmediateActionRequired)
	assert.Contains(a.Overrides, RuleChildCritical)
	assert.Contains(a.Categories, CategoryChildSafety)
}

func TestScoreToxicityEmotionCompound(t *testing.T) {
	assert := assert.New(t)

	set := SignalFixture(map[signals.Family]float64{
		signals.Toxicity: 0.8,
		signals.Emotion:  0.7,
	})
	set = WithFlags(set, signals.Toxicity, signals.FlagSeverityHigh)

	a, err := Score(set)
	assert.NoError(err)
	assert.Equal(90, a.Score)
	assert.Equal(LabelHigh, a.Label)
	assert.Equal([]string{RuleToxicityHigh, RuleToxicityEmotion}, a.Overrides)
}

func TestScoreOverrideFloors(t *testing.T) {
	assert := assert.New(t)

	cases := []struct {
		family signals.Family
		flags  []string
		score  float64
		want   int
	}{
		{signals.ChildSafety, []string{signals.FlagSeverityCritical}, 0, 95},
		{signals.ChildSafety, []string{signals.FlagSeverityHigh}, 0, 85},
		{signals.ChildSafety, []string{signals.FlagExploitationMultiple}, 0, 85},
		{signals.ChildSafety, []string{signals.FlagChild}, 0.61, 80},
		{signals.ChildSafety, []string{signals.FlagChild}, 0.6, 21},
		{signals.Toxicity, []string{signals.FlagImmediateAction}, 0, 85},
		{signals.Toxicity, []string{signals.FlagSeverityCritical}, 0, 90},
		{signals.Toxicity, []string{signals.FlagSeverityHigh}, 0, 75},
		{signals.Toxicity, []string{signals.FlagHateSpeech}, 0, 70},
		{signals.Toxicity, []string{signals.FlagHateSpeech, signals.FlagSlurs}, 0, 85},
		// non-severe categories do not count
		{signals.Toxicity, []string{signals.FlagHarassment}, 0, 0},
	}
	for _, c := range cases {
		set := WithFlags(SignalFixture(map[signals.Family]float64{c.family: c.score}), c.family, c.flags...)
		a, err := Score(set)
		assert.NoError(err)
		assert.Equal(c.want, a.Score, "%s %v", c.family, c.flags)
	}
}

func TestScoreMultipliersCapAt100(t *testing.T) {
	assert := assert.New(t)

	set := SignalFixture(map[signals.Family]float64{
		signals.ChildSafety:  0.9,
		signals.Toxicity:     0.9,
		signals.Emotion:      0.9,
		signals.CallToAction: 0.9,
	})
	set = WithFlags(set, signals.ChildSafety, signals.FlagChild, signals.FlagSeverityCritical)
	set = WithFlags(set, signals.Toxicity, signals.FlagSeverityCritical)

	a, err := Score(set)
	assert.NoError(err)
	assert.Equal(100, a.Score)
	assert.Contains(a.Overrides, RuleToxicityEmotion)
	assert.Contains(a.Overrides, RuleToxicityMobilizing)
	assert.Contains(a.Overrides, RuleChildCompound)
}

func TestScoreChildEscalation(t *testing.T) {
	assert := assert.New(t)

	set := WithFlags(SignalFixture(map[signals.Family]float64{signals.ChildSafety: 0.5}), signals.ChildSafety, signals.FlagChild)
	a, err := Score(set)
	assert.NoError(err)
	assert.False(a.ChildEscalation)

	set = WithFlags(SignalFixture(map[signals.Family]float64{signals.ChildSafety: 0.51}), signals.ChildSafety, signals.FlagChild)
	a, err = Score(set)
	assert.NoError(err)
	assert.True(a.ChildEscalation)

	// score alone is not enough
	a, err = Score(SignalFixture(map[signals.Family]float64{signals.ChildSafety: 0.9}))
	assert.NoError(err)
	assert.False(a.ChildEscalation)
}

func TestScoreInvalid(t *testing.T) {
	assert := assert.New(t)

	set := SignalFixture(nil)
	set[signals.Emotion] = signals.Signal{Score: math.NaN()}
	_, err := Score(set)
	assert.True(errors.Is(err, signals.ErrInvalidSignal))

	set = SignalFixture(nil)
	set[signals.Emotion] = signals.Signal{Score: 1.5}
	_, err = Score(set)
	assert.True(errors.Is(err, signals.ErrInvalidSignal))
}

func TestScoreDeterministic(t *testing.T) {
	assert := assert.New(t)

	set := SignalFixture(map[signals.Family]float64{
		signals.ChildSafety: 0.7,
		signals.Toxicity:    0.75,
		signals.Emotion:     0.65,
	})
	set = WithFlags(set, signals.ChildSafety, signals.FlagChild)
	first, err := Score(set)
	assert.NoError(err)
	for range 20 {
		again, err := Score(set)
		assert.NoError(err)
		assert.Equal(first, again)
	}
}

func TestScoreMonotonic(t *testing.T) {
	assert := assert.New(t)

	flagSets := []struct {
		family signals.Family
		flags  []string
	}{
		{signals.ChildSafety, nil},
		{signals.ChildSafety, []string{signals.FlagChild}},
		{signals.Toxicity, []string{signals.FlagSeverityHigh}},
		{signals.Toxicity, []string{signals.FlagHateSpeech}},
	}
	base := map[signals.Family]float64{
		signals.ChildSafety:  0.3,
		signals.Toxicity:     0.5,
		signals.Emotion:      0.4,
		signals.CallToAction: 0.2,
		signals.Context:      0.1,
	}
	for _, fs := range flagSets {
		for _, f := range signals.Families {
			prev := -1
			for step := 0; step <= 20; step++ {
				scores := map[signals.Family]float64{}
				for k, v := range base {
					scores[k] = v
				}
				scores[f] = float64(step) / 20
				set := WithFlags(SignalFixture(scores), fs.family, fs.flags...)
				a, err := Score(set)
				assert.NoError(err)
				assert.GreaterOrEqual(a.Score, prev, "family %s step %d flags %v", f, step, fs.flags)
				prev = a.Score
			}
		}
	}
}

func TestLabelPartition(t *testing.T) {
	assert := assert.New(t)

	cfg := DefaultConfig()
	for score := 0; score <= 100; score++ {
		l := cfg.Label(score)
		switch {
		case score <= 49:
			assert.Equal(LabelLow, l, score)
		case score <= 74:
			assert.Equal(LabelMedium, l, score)
		default:
			assert.Equal(LabelHigh, l, score)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	assert := assert.New(t)

	assert.NoError(DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.Weights.Context = 0.2
	assert.True(errors.Is(bad.Validate(), ErrInvalidConfig))

	bad = DefaultConfig()
	bad.Weights.Context = -0.05
	bad.Weights.Toxicity = 0.4
	assert.True(errors.Is(bad.Validate(), ErrInvalidConfig))

	bad = DefaultConfig()
	bad.LowMax = 80
	assert.True(errors.Is(bad.Validate(), ErrInvalidConfig))

	bad = DefaultConfig()
	bad.MediumMax = 100
	assert.True(errors.Is(bad.Validate(), ErrInvalidConfig))

	_, err := NewScorer(bad)
	assert.Error(err)
}

func TestLoadConfig(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	dir := t.TempDir()
	p := filepath.Join(dir, "scoring.yaml")
	require.NoError(os.WriteFile(p, []byte("low_max: 39\nmedium_max: 69\n"), 0o644))

	cfg, err := LoadConfig(p)
	require.NoError(err)
	assert.Equal(39, cfg.LowMax)
	assert.Equal(69, cfg.MediumMax)
	assert.Equal(0.35, cfg.Weights.ChildSafety)

	s, err := NewScorer(cfg)
	require.NoError(err)
	a, err := s.Score(SignalFixture(map[signals.Family]float64{signals.Toxicity: 1, signals.Emotion: 0.6}))
	require.NoError(err)
	// 30 + 12 = 42
	assert.Equal(42, a.Score)
	assert.Equal(LabelMedium, a.Label)

	require.NoError(os.WriteFile(p, []byte("weights:\n  child_safety: 0.9\n"), 0o644))
	_, err = LoadConfig(p)
	assert.True(errors.Is(err, ErrInvalidConfig))
}

func TestCategories(t *testing.T) {
	assert := assert.New(t)

	set := SignalFixture(map[signals.Family]float64{
		signals.Emotion:      0.3,
		signals.CallToAction: 0.5,
		signals.Context:      0.29,
	})
	set = WithFlags(set, signals.Toxicity, signals.FlagHateSpeech, signals.FlagThreatsViolence)
	set = WithFlags(set, signals.ChildSafety, signals.FlagChild)

	assert.Equal([]string{
		"Threats/Violence",
		"Hate Speech",
		CategoryPanic,
		CategoryMobilization,
		CategoryChildSafety,
	}, Categories(set))
}

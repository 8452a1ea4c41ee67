package scoring

import (
	"math"

	"github.com/harmlens/harmlens/signals"
)

type Label string

const (
	LabelLow    Label = "Low"
	LabelMedium Label = "Medium"
	LabelHigh   Label = "High"
)

// Override rule identifiers, recorded on the Assessment when the rule condition holds.
const (
	RuleChildCritical      = "child_critical"
	RuleChildHigh          = "child_high"
	RuleChildFlag          = "child_flag"
	RuleImmediateAction    = "immediate_action"
	RuleToxicityCritical   = "toxicity_critical"
	RuleToxicityHigh       = "toxicity_high"
	RuleSevereCategories   = "severe_categories"
	RuleSevereCategory     = "severe_category"
	RuleToxicityEmotion    = "toxicity_emotion"
	RuleToxicityMobilizing = "toxicity_call_to_action"
	RuleChildCompound      = "child_compound"
)

type Assessment struct {
	Score     int                        `json:"risk_score"`
	Label     Label                      `json:"risk_label"`
	Breakdown map[signals.Family]float64 `json:"breakdown"`

	ChildEscalation         bool `json:"child_escalation"`
	ImmediateActionRequired bool `json:"immediate_action_required"`

	// override rules which fired, in evaluation order
	Overrides  []string `json:"overrides,omitempty"`
	Categories []string `json:"categories,omitempty"`
}

// Scorer converts signal sets into assessments. It holds no mutable state.
type Scorer struct {
	cfg Config
}

func NewScorer(cfg Config) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{cfg: cfg}, nil
}

func (s *Scorer) Config() Config {
	return s.cfg
}

var defaultScorer = &Scorer{cfg: DefaultConfig()}

// Score evaluates a set with the default configuration.
func Score(set signals.Set) (Assessment, error) {
	return defaultScorer.Score(set)
}

func (c Config) Label(score int) Label {
	switch {
	case score <= c.LowMax:
		return LabelLow
	case score <= c.MediumMax:
		return LabelMedium
	default:
		return LabelHigh
	}
}

func floor(score *float64, min float64) {
	if *score < min {
		*score = min
	}
}

func multiply(score *float64, factor float64) {
	*score = math.Min(*score*factor, 100)
}

// Score computes the weighted base score, then applies the override chain in a fixed order. Floors only
// ever raise the score, and multipliers are capped at 100.
func (s *Scorer) Score(set signals.Set) (Assessment, error) {
	if err := set.Validate(); err != nil {
		return Assessment{}, err
	}

	breakdown := make(map[signals.Family]float64, len(signals.Families))
	base := 0.0
	for _, f := range signals.Families {
		v := set.Score(f)
		breakdown[f] = v
		base += s.cfg.Weights.For(f) * v
	}
	score := base * 100

	var (
		overrides []string
		immediate bool
	)
	fire := func(rule string) {
		overrides = append(overrides, rule)
	}

	child := set[signals.ChildSafety]
	tox := set[signals.Toxicity]
	childScore := child.Score
	toxScore := tox.Score
	emoScore := set.Score(signals.Emotion)
	ctaScore := set.Score(signals.CallToAction)
	childFlag := child.Flag(signals.FlagChild)

	// child safety
	if child.Flag(signals.FlagSeverityCritical) || child.Flag(signals.FlagDangerCombination) {
		floor(&score, 95)
		immediate = true
		fire(RuleChildCritical)
	}
	if child.Flag(signals.FlagSeverityHigh) || child.Flag(signals.FlagExploitationMultiple) {
		floor(&score, 85)
		immediate = true
		fire(RuleChildHigh)
	}
	if childFlag && childScore > 0.6 {
		floor(&score, 80)
		fire(RuleChildFlag)
	}

	// toxicity
	if tox.Flag(signals.FlagImmediateAction) {
		floor(&score, 85)
		fire(RuleImmediateAction)
	}
	if tox.Flag(signals.FlagSeverityCritical) {
		floor(&score, 90)
		fire(RuleToxicityCritical)
	} else if tox.Flag(signals.FlagSeverityHigh) {
		floor(&score, 75)
		fire(RuleToxicityHigh)
	}
	severe := set.Count(signals.Toxicity, signals.SevereToxicityFlags...)
	if severe >= 2 {
		floor(&score, 85)
		fire(RuleSevereCategories)
	} else if severe == 1 {
		floor(&score, 70)
		fire(RuleSevereCategory)
	}

	// compound multipliers
	if toxScore > 0.7 && emoScore > 0.6 {
		multiply(&score, 1.2)
		fire(RuleToxicityEmotion)
	}
	if toxScore > 0.7 && ctaScore > 0.6 {
		multiply(&score, 1.25)
		fire(RuleToxicityMobilizing)
	}
	if childFlag && (toxScore > 0.6 || emoScore > 0.6) {
		multiply(&score, 1.3)
		fire(RuleChildCompound)
	}

	final := int(math.Round(math.Max(0, math.Min(100, score))))

	return Assessment{
		Score:                   final,
		Label:                   s.cfg.Label(final),
		Breakdown:               breakdown,
		ChildEscalation:         (childFlag && childScore > 0.5) || child.Flag(signals.FlagDangerCombination),
		ImmediateActionRequired: immediate,
		Overrides:               overrides,
		Categories:              Categories(set),
	}, nil
}

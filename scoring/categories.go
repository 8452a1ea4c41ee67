package scoring

import (
	"github.com/harmlens/harmlens/signals"
)

const (
	CategoryPanic        = "Panic/Fear-mongering"
	CategoryMobilization = "Mobilization/Call-to-Action"
	CategorySensitive    = "Sensitive Context"
	CategoryChildSafety  = "Child Safety Concern"
	CategoryGeneral      = "General Content"
)

const categoryThreshold = 0.3

// Categories lists the harm categories present in a signal set, in a stable order.
func Categories(set signals.Set) []string {
	out := []string{}
	seen := map[string]bool{}
	add := func(c string) {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}

	for _, tc := range signals.ToxicityCategoryNames {
		if set.Flag(signals.Toxicity, tc.Flag) {
			add(tc.Name)
		}
	}
	if set.Score(signals.Emotion) >= categoryThreshold {
		add(CategoryPanic)
	}
	if set.Score(signals.CallToAction) >= categoryThreshold {
		add(CategoryMobilization)
	}
	if set.Score(signals.Context) >= categoryThreshold {
		add(CategorySensitive)
	}
	if set.Flag(signals.ChildSafety, signals.FlagChild) {
		add(CategoryChildSafety)
	}
	if len(out) == 0 {
		add(CategoryGeneral)
	}
	return out
}

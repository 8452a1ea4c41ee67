// Package detect provides reference signal detectors: rule-based detectors for each signal family and
// a client for remote HTTP classifiers.
package detect

import (
	"github.com/harmlens/harmlens/signals"
)

// Set bundles one detector per family.
type Set struct {
	ChildSafety  signals.Detector
	Toxicity     signals.Detector
	Emotion      signals.Detector
	CallToAction signals.Detector
	Context      signals.Detector
}

// RuleSet returns the rule-based detectors. A nil Keywords uses the default keyword sets.
func RuleSet(kw *Keywords) Set {
	if kw == nil {
		kw = DefaultKeywords()
	}
	return Set{
		ChildSafety:  NewChildSafetyDetector(kw),
		Toxicity:     NewToxicityDetector(),
		Emotion:      NewEmotionDetector(kw),
		CallToAction: NewCallToActionDetector(kw),
		Context:      NewContextDetector(kw),
	}
}

// Replace swaps in d for its family, returning the previous detector.
func (s *Set) Replace(d signals.Detector) signals.Detector {
	var slot *signals.Detector
	switch d.Family() {
	case signals.ChildSafety:
		slot = &s.ChildSafety
	case signals.Toxicity:
		slot = &s.Toxicity
	case signals.Emotion:
		slot = &s.Emotion
	case signals.CallToAction:
		slot = &s.CallToAction
	case signals.Context:
		slot = &s.Context
	default:
		return nil
	}
	prev := *slot
	*slot = d
	return prev
}

func (s Set) Detectors() []signals.Detector {
	return []signals.Detector{s.ChildSafety, s.Toxicity, s.Emotion, s.CallToAction, s.Context}
}

package signals

import (
	"errors"
	"fmt"
	"math"
)

// Family identifies one of the independent detector families which feed the scoring engine.
type Family string

const (
	Emotion      Family = "emotion"
	CallToAction Family = "call_to_action"
	Toxicity     Family = "toxicity"
	Context      Family = "context"
	ChildSafety  Family = "child_safety"
)

// Families lists every canonical family. A complete Set has exactly one Signal for each.
var Families = []Family{ChildSafety, Toxicity, Emotion, CallToAction, Context}

func (f Family) Valid() bool {
	switch f {
	case Emotion, CallToAction, Toxicity, Context, ChildSafety:
		return true
	}
	return false
}

// Named flags read by the scoring engine.
const (
	// child_safety family
	FlagChild                = "child"
	FlagDangerCombination    = "danger_combination"
	FlagExploitationMultiple = "exploitation_multiple"

	// shared by child_safety and toxicity
	FlagSeverityCritical = "severity_critical"
	FlagSeverityHigh     = "severity_high"

	// toxicity family
	FlagImmediateAction  = "immediate_action"
	FlagThreatsViolence  = "threats_violence"
	FlagHateSpeech       = "hate_speech"
	FlagSexualHarassment = "sexual_harassment"
	FlagExtremistContent = "extremist_content"
	FlagSlurs            = "slurs"
	FlagHarassment       = "harassment"
	FlagSelfHarm         = "self_harm"
)

// SevereToxicityFlags are the toxicity category flags counted by the severe-category override.
var SevereToxicityFlags = []string{
	FlagThreatsViolence,
	FlagHateSpeech,
	FlagSexualHarassment,
	FlagExtremistContent,
	FlagSlurs,
}

// Human-readable names for toxicity category flags, in reporting order.
var ToxicityCategoryNames = []struct {
	Flag string
	Name string
}{
	{FlagThreatsViolence, "Threats/Violence"},
	{FlagHateSpeech, "Hate Speech"},
	{FlagHarassment, "Harassment"},
	{FlagSexualHarassment, "Sexual Harassment"},
	{FlagSlurs, "Slurs/Derogatory Language"},
	{FlagExtremistContent, "Extremist Content"},
	{FlagSelfHarm, "Self-Harm"},
}

// Signal is the normalized output of a single detector.
type Signal struct {
	Score    float64         `json:"score"`
	Flags    map[string]bool `json:"flags,omitempty"`
	Evidence []string        `json:"evidence,omitempty"`
}

func (s Signal) Flag(name string) bool {
	return s.Flags[name]
}

// Set holds one Signal per family. It is built once per content item and not mutated afterwards.
type Set map[Family]Signal

func (s Set) Score(f Family) float64 {
	return s[f].Score
}

func (s Set) Flag(f Family, name string) bool {
	return s[f].Flag(name)
}

// Count returns how many of the named flags are set on the family's signal.
func (s Set) Count(f Family, names ...string) int {
	n := 0
	sig := s[f]
	for _, name := range names {
		if sig.Flag(name) {
			n++
		}
	}
	return n
}

var ErrInvalidSignal = errors.New("invalid signal")

// InvalidSignalError describes why a Set was rejected. It matches ErrInvalidSignal with errors.Is.
type InvalidSignalError struct {
	Family Family
	Reason string
}

func (e *InvalidSignalError) Error() string {
	if e.Family == "" {
		return fmt.Sprintf("invalid signal: %s", e.Reason)
	}
	return fmt.Sprintf("invalid signal %q: %s", e.Family, e.Reason)
}

func (e *InvalidSignalError) Unwrap() error {
	return ErrInvalidSignal
}

// Validate checks that every canonical family is present exactly once with a finite score in [0,1].
//
// Malformed scores are rejected, never clamped: a NaN from a failed detector must not read as "safe".
func (s Set) Validate() error {
	for f := range s {
		if !f.Valid() {
			return &InvalidSignalError{Family: f, Reason: "unknown family"}
		}
	}
	for _, f := range Families {
		sig, ok := s[f]
		if !ok {
			return &InvalidSignalError{Family: f, Reason: "missing"}
		}
		if err := sig.Check(f); err != nil {
			return err
		}
	}
	return nil
}

// Check validates a single signal reported for family f.
func (s Signal) Check(f Family) error {
	if math.IsNaN(s.Score) {
		return &InvalidSignalError{Family: f, Reason: "score is NaN"}
	}
	if math.IsInf(s.Score, 0) || s.Score < 0 || s.Score > 1 {
		return &InvalidSignalError{Family: f, Reason: fmt.Sprintf("score %v outside [0,1]", s.Score)}
	}
	return nil
}

package detect

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/harmlens/harmlens/signals"
)

// Flags set by the emotion detector, one per dominant emotion.
const (
	FlagFear    = "fear"
	FlagAnger   = "anger"
	FlagSadness = "sadness"
)

const maxEvidence = 8

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func capAt(v, limit float64) float64 {
	return math.Min(v, limit)
}

func appendEvidence(ev []string, items ...string) []string {
	for _, it := range items {
		if len(ev) >= maxEvidence {
			return ev
		}
		dup := false
		for _, e := range ev {
			if e == it {
				dup = true
				break
			}
		}
		if !dup {
			ev = append(ev, it)
		}
	}
	return ev
}

func firstN(l []string, n int) []string {
	if len(l) > n {
		return l[:n]
	}
	return l
}

// EmotionDetector scores fear, anger and sadness vocabulary, amplified by urgency.
type EmotionDetector struct {
	kw *Keywords
}

func NewEmotionDetector(kw *Keywords) *EmotionDetector { return &EmotionDetector{kw: kw} }

func (d *EmotionDetector) Family() signals.Family { return signals.Emotion }

func (d *EmotionDetector) Detect(ctx context.Context, text string) (signals.Signal, error) {
	if err := ctx.Err(); err != nil {
		return signals.Signal{}, err
	}
	tt := newTokenText(text)

	urgency := tt.matches(d.kw.Get(SetEmotionUrgency))
	bonus := capAt(float64(len(urgency))*0.15, 0.5)

	flags := map[string]bool{}
	// neutral text still carries a small baseline
	base := 0.2
	found := false
	for _, e := range []struct {
		flag string
		set  string
	}{
		{FlagFear, SetEmotionFear},
		{FlagAnger, SetEmotionAnger},
		{FlagSadness, SetEmotionSadness},
	} {
		n := len(tt.matches(d.kw.Get(e.set)))
		if n == 0 {
			continue
		}
		flags[e.flag] = true
		s := capAt(float64(n)*0.25, 1)
		if !found || s > base {
			base = s
		}
		found = true
	}

	return signals.Signal{
		Score:    round3(capAt(base*(1+bonus), 1)),
		Flags:    flags,
		Evidence: appendEvidence(nil, urgency...),
	}, nil
}

// CallToActionDetector scores mobilizing language: action verbs, urgency, imperative phrasing and
// repeated exclamation marks.
type CallToActionDetector struct {
	kw *Keywords
}

func NewCallToActionDetector(kw *Keywords) *CallToActionDetector {
	return &CallToActionDetector{kw: kw}
}

func (d *CallToActionDetector) Family() signals.Family { return signals.CallToAction }

func (d *CallToActionDetector) Detect(ctx context.Context, text string) (signals.Signal, error) {
	if err := ctx.Err(); err != nil {
		return signals.Signal{}, err
	}
	tt := newTokenText(text)
	normalized := Normalize(text)

	score := 0.0
	var ev []string

	if verbs := tt.matches(d.kw.Get(SetActionVerbs)); len(verbs) > 0 {
		score += capAt(float64(len(verbs))*0.2, 0.6)
		ev = appendEvidence(ev, firstN(verbs, 5)...)
	}
	if urgency := tt.matches(d.kw.Get(SetActionUrgency)); len(urgency) > 0 {
		score += capAt(float64(len(urgency))*0.15, 0.4)
		ev = appendEvidence(ev, firstN(urgency, 3)...)
	}
	var directives []string
	for _, re := range directivePatterns {
		directives = append(directives, re.FindAllString(normalized, -1)...)
	}
	if len(directives) > 0 {
		score += capAt(float64(len(directives))*0.2, 0.5)
		ev = appendEvidence(ev, firstN(directives, 3)...)
	}
	if n := strings.Count(text, "!"); n >= 2 {
		score += capAt(float64(n)*0.05, 0.2)
	}

	return signals.Signal{
		Score:    round3(capAt(score, 1)),
		Evidence: ev,
	}, nil
}

// ContextDetector scores how strongly text touches a sensitive topic (health, elections, communal
// tension, disasters, or any topic added through a keyword file). The strongest topic sets the score and
// is reported as a flag.
type ContextDetector struct {
	kw *Keywords
}

func NewContextDetector(kw *Keywords) *ContextDetector { return &ContextDetector{kw: kw} }

func (d *ContextDetector) Family() signals.Family { return signals.Context }

// keyword evidence is discounted; a semantic classifier would supply the remainder
const contextKeywordWeight = 0.7

func (d *ContextDetector) Detect(ctx context.Context, text string) (signals.Signal, error) {
	if err := ctx.Err(); err != nil {
		return signals.Signal{}, err
	}
	tt := newTokenText(text)

	var (
		top      string
		topScore float64
		ev       []string
	)
	for _, topic := range d.kw.ContextTopics() {
		m := tt.matches(d.kw.Get(contextPrefix + topic))
		if len(m) == 0 {
			continue
		}
		ev = appendEvidence(ev, firstN(m, 3)...)
		s := capAt(float64(len(m))*0.2, 0.8) * contextKeywordWeight
		if s > topScore {
			top, topScore = topic, s
		}
	}

	sig := signals.Signal{Score: round3(topScore), Evidence: ev}
	if top != "" {
		sig.Flags = map[string]bool{top: true}
	}
	return sig, nil
}

// ChildSafetyDetector looks for content involving minors combined with exploitation, grooming, secrecy
// or trafficking indicators. It errs toward flagging.
type ChildSafetyDetector struct {
	kw *Keywords
}

func NewChildSafetyDetector(kw *Keywords) *ChildSafetyDetector {
	return &ChildSafetyDetector{kw: kw}
}

func (d *ChildSafetyDetector) Family() signals.Family { return signals.ChildSafety }

func (d *ChildSafetyDetector) Detect(ctx context.Context, text string) (signals.Signal, error) {
	if err := ctx.Err(); err != nil {
		return signals.Signal{}, err
	}
	tt := newTokenText(text)
	normalized := Normalize(text)

	score := 0.0
	var ev []string

	minors := tt.matches(d.kw.Get(SetChildTerms))
	if len(minors) > 0 {
		score += 0.2
		ev = appendEvidence(ev, firstN(minors, 2)...)
	}

	exploitation := countMatches(normalized, exploitationPatterns)
	score += float64(exploitation) * 0.3
	if exploitation > 0 {
		ev = appendEvidence(ev, fmt.Sprintf("%d exploitation patterns", exploitation))
	}

	combinations := 0
	for _, combo := range dangerCombinations {
		if countMatches(normalized, combo) == len(combo) {
			combinations++
		}
	}
	score += float64(combinations) * 0.4
	if combinations > 0 {
		ev = appendEvidence(ev, fmt.Sprintf("%d danger combinations", combinations))
	}

	if vulnerable := tt.matches(d.kw.Get(SetChildVulnerable)); len(vulnerable) > 0 {
		score += capAt(float64(len(vulnerable))*0.15, 0.5)
		ev = appendEvidence(ev, firstN(vulnerable, 2)...)
	}

	score = capAt(score, 1)

	flags := map[string]bool{}
	switch {
	case combinations >= 1, exploitation >= 2, score >= 0.6, len(minors) > 0 && exploitation >= 1:
		flags[signals.FlagChild] = true
	}
	if combinations >= 1 {
		flags[signals.FlagDangerCombination] = true
	}
	if exploitation >= 2 {
		flags[signals.FlagExploitationMultiple] = true
	}
	switch {
	case score >= 0.8 || combinations >= 2:
		flags[signals.FlagSeverityCritical] = true
	case score >= 0.6 || exploitation >= 2:
		flags[signals.FlagSeverityHigh] = true
	}

	return signals.Signal{
		Score:    round3(score),
		Flags:    flags,
		Evidence: ev,
	}, nil
}

// ToxicityDetector matches known abusive phrasing by category. Matching more than one category boosts
// the score.
type ToxicityDetector struct{}

func NewToxicityDetector() *ToxicityDetector { return &ToxicityDetector{} }

func (d *ToxicityDetector) Family() signals.Family { return signals.Toxicity }

func (d *ToxicityDetector) Detect(ctx context.Context, text string) (signals.Signal, error) {
	if err := ctx.Err(); err != nil {
		return signals.Signal{}, err
	}
	normalized := Normalize(text)

	score := 0.0
	matched := 0
	flags := map[string]bool{}
	var ev []string
	for _, cat := range toxicityCategories {
		if countMatches(normalized, cat.patterns) == 0 {
			continue
		}
		matched++
		flags[cat.flag] = true
		if cat.immediate {
			flags[signals.FlagImmediateAction] = true
		}
		score = math.Max(score, cat.score)
		ev = appendEvidence(ev, categoryName(cat.flag))
	}
	if matched > 1 {
		score = capAt(score*1.2, 1)
	}

	switch {
	case score >= 0.8:
		flags[signals.FlagSeverityCritical] = true
	case score >= 0.6:
		flags[signals.FlagSeverityHigh] = true
	}

	return signals.Signal{
		Score:    round3(score),
		Flags:    flags,
		Evidence: ev,
	}, nil
}

func categoryName(flag string) string {
	for _, tc := range signals.ToxicityCategoryNames {
		if tc.Flag == flag {
			return tc.Name
		}
	}
	return flag
}

package detect

import (
	"context"
	"testing"

	"github.com/harmlens/harmlens/scoring"
	"github.com/harmlens/harmlens/signals"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func detectAll(t *testing.T, text string) signals.Set {
	t.Helper()
	set := signals.Set{}
	for _, d := range RuleSet(nil).Detectors() {
		sig, err := d.Detect(context.Background(), text)
		require.NoError(t, err)
		set[d.Family()] = sig
	}
	require.NoError(t, set.Validate())
	return set
}

func TestChildSafetyCritical(t *testing.T) {
	assert := assert.New(t)

	set := detectAll(t, "Kids can work to help parents, don't inform parents. Salary $200 per month. Come to secret location")
	child := set[signals.ChildSafety]
	assert.GreaterOrEqual(child.Score, 0.8)
	assert.True(child.Flag(signals.FlagChild))
	assert.True(child.Flag(signals.FlagDangerCombination))
	assert.True(child.Flag(signals.FlagExploitationMultiple))
	assert.True(child.Flag(signals.FlagSeverityCritical))

	a, err := scoring.Score(set)
	require.NoError(t, err)
	assert.GreaterOrEqual(a.Score, 95)
	assert.True(a.ChildEscalation)
}

func TestChildSafetyBenign(t *testing.T) {
	assert := assert.New(t)

	for _, text := range []string{
		"Children's education is important",
		"Kids playing in the park",
	} {
		child := detectAll(t, text)[signals.ChildSafety]
		assert.Less(child.Score, 0.4, text)
		assert.False(child.Flag(signals.FlagChild), text)
		assert.False(child.Flag(signals.FlagDangerCombination), text)
	}
}

func TestToxicity(t *testing.T) {
	assert := assert.New(t)

	tests := []struct {
		text      string
		flag      string
		immediate bool
	}{
		{"I hope you die", signals.FlagThreatsViolence, true},
		{"All immigrants are criminals", signals.FlagHateSpeech, false},
		{"you're an idiot", signals.FlagHarassment, false},
		{"they talk about racial cleansing", signals.FlagExtremistContent, true},
	}
	for _, tc := range tests {
		tox := detectAll(t, tc.text)[signals.Toxicity]
		assert.True(tox.Flag(tc.flag), tc.text)
		assert.Equal(tc.immediate, tox.Flag(signals.FlagImmediateAction), tc.text)
		assert.True(tox.Flag(signals.FlagSeverityCritical), tc.text)
	}

	clean := detectAll(t, "This is a normal message about gardening")[signals.Toxicity]
	assert.Equal(0.0, clean.Score)
	assert.Empty(clean.Flags)
}

func TestToxicityMultipleCategoriesBoost(t *testing.T) {
	assert := assert.New(t)

	tox := detectAll(t, "you're an idiot, kill yourself. those people are vermin")[signals.Toxicity]
	assert.True(tox.Flag(signals.FlagHarassment))
	assert.True(tox.Flag(signals.FlagHateSpeech))
	assert.Equal(1.0, tox.Score)
}

func TestEmotionAndCallToAction(t *testing.T) {
	assert := assert.New(t)

	set := detectAll(t, "I am terrified! The flood is coming, share this now and tell everyone, act fast!!")
	emo := set[signals.Emotion]
	assert.True(emo.Flag(FlagFear))
	assert.Greater(emo.Score, 0.25)
	assert.Contains(emo.Evidence, "now")

	cta := set[signals.CallToAction]
	assert.GreaterOrEqual(cta.Score, 0.6)
	assert.Contains(cta.Evidence, "share")

	ctx := set[signals.Context]
	assert.True(ctx.Flag("disaster"))
	assert.InDelta(0.14, ctx.Score, 1e-9)

	neutral := detectAll(t, "the meeting notes are attached")[signals.Emotion]
	assert.Equal(0.2, neutral.Score)
	assert.Empty(neutral.Flags)
}

func TestDetectorsHonorCancellation(t *testing.T) {
	assert := assert.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, d := range RuleSet(nil).Detectors() {
		_, err := d.Detect(ctx, "anything")
		assert.ErrorIs(err, context.Canceled)
	}
}

func TestSetReplace(t *testing.T) {
	assert := assert.New(t)

	s := RuleSet(nil)
	prev := s.Replace(NewToxicityDetector())
	assert.NotNil(prev)
	assert.Len(s.Detectors(), 5)

	agg, err := signals.NewAggregator(nil, s.Detectors()...)
	assert.NoError(err)
	assert.NotNil(agg)
}

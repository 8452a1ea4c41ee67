package detect

import (
	"regexp"

	"github.com/harmlens/harmlens/signals"
)

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

// countMatches returns how many of the patterns match somewhere in the text.
func countMatches(text string, patterns []*regexp.Regexp) int {
	n := 0
	for _, re := range patterns {
		if re.MatchString(text) {
			n++
		}
	}
	return n
}

var directivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bmust\s+\w+`),
	regexp.MustCompile(`\bneed\s+to\s+\w+`),
	regexp.MustCompile(`\bdon'?t\s+\w+`),
	regexp.MustCompile(`\bstop\s+\w+`),
	regexp.MustCompile(`\beveryone\s+should\s+\w+`),
	regexp.MustCompile(`\bwe\s+need\s+to\s+\w+`),
	regexp.MustCompile(`\blet'?s\s+\w+`),
}

var exploitationPatterns = compileAll(
	// labor
	`\b(work|job|employment|labor|labour)\b.*\b(child|kid|minor|young)\b`,
	`\b(child|kid|minor|young)\b.*\b(work|job|employment|labor|labour)\b`,
	`\bchild\s+labou?r\b`,
	`\bchild\s+work\b`,

	// money
	`\bsalary\b.*\b(child|kid|minor)\b`,
	`\b(child|kid|minor)\b.*\bsalary\b`,
	`\b(pay|paid|payment|money|cash)\b.*\b(child|kid|minor)\b`,
	`\$\d+.*\b(child|kid|minor)\b`,

	// secrecy
	`\bsecret\b.*\b(location|place|meet|contact)\b`,
	`\bdon'?t\s+(tell|inform|let\s+know)\b.*\b(parent|parents|family|guardian)\b`,
	`\bkeep\s+(secret|quiet|hidden)\b`,
	`\bhide\s+from\b.*\b(parent|parents|family)\b`,

	// contact
	`\bmeet\b.*\b(child|kid|minor|young)\b`,
	`\b(child|kid|minor|young)\b.*\bmeet\b`,
	`\bcome\s+to\b.*\b(location|place|address)\b`,
	`\bprivate\s+(meeting|contact|message)\b`,

	// grooming
	`\bspecial\s+(friend|relationship)\b`,
	`\bmature\s+for\s+your\s+age\b`,
	`\bdon'?t\s+tell\s+anyone\b`,
	`\bbetween\s+us\b`,
	`\bour\s+secret\b`,

	// trafficking
	`\btravel\b.*\b(child|kid|minor)\b`,
	`\btake\s+you\b.*\b(somewhere|place|location)\b`,
	`\bpick\s+you\s+up\b`,
	`\balone\b.*\b(meet|contact)\b`,
)

// Each combination matches only when every one of its patterns matches.
var dangerCombinations = [][]*regexp.Regexp{
	compileAll(`\b(child|kid|kids|minor)\b`, `\b(work|job|labor)\b`, `(\b(salary|pay|money)\b|\$)`),
	compileAll(`\b(child|kid|kids|minor)\b`, `\bsecret\b`, `\b(location|place|meet)\b`),
	compileAll(`\b(child|kid|kids|minor)\b`, `\bdon'?t\s+(tell|inform)\b.*\bparent`, `\b(money|pay|salary)\b`),
	compileAll(`\b(work|job)\b`, `\bsecret\b`, `\b(location|place|address)\b`),
}

type toxicityCategory struct {
	flag      string
	score     float64
	immediate bool
	patterns  []*regexp.Regexp
}

// toxicityCategories are evaluated in order; the toxicity score is the highest category score that
// matched.
var toxicityCategories = []toxicityCategory{
	{
		flag:      signals.FlagThreatsViolence,
		score:     0.9,
		immediate: true,
		patterns: compileAll(
			`\b(kill|murder|shoot|stab|attack|assault|beat|hurt|harm)\b.*\b(you|them|him|her)\b`,
			`\b(going to|gonna|will)\b.*\b(kill|hurt|attack|destroy)\b`,
			`\bshould (die|be killed|be shot|be hurt)\b`,
			`\bdeserves? to (die|suffer|be hurt)\b`,
			`\bhope (you|they) (die|get hurt|suffer)\b`,
		),
	},
	{
		flag:  signals.FlagHateSpeech,
		score: 0.85,
		patterns: compileAll(
			`\ball \w+ (are|is) (bad|evil|stupid|dangerous|criminals|terrorists)`,
			`\b(these|those) \w+ (are|is) (destroying|ruining|invading)`,
			`\bget rid of (all|the) \w+`,
			`\b(they|them) should (leave|go back|be removed)`,
			`\b(inferior|subhuman|animals|vermin|parasites)\b`,
		),
	},
	{
		flag:  signals.FlagHarassment,
		score: 0.8,
		patterns: compileAll(
			`\b(you are|you're|ur) (stupid|idiot|an idiot|moron|dumb|pathetic|worthless|trash)`,
			`\bshut (up|the fuck up)\b`,
			`\bkill yourself\b`,
			`\bgo die\b`,
			`\bnobody likes you\b`,
			`\byou should (die|leave|disappear)\b`,
		),
	},
	{
		flag:      signals.FlagSexualHarassment,
		score:     0.95,
		immediate: true,
		patterns: compileAll(
			`\b(rape|molest|grope)\b`,
			`\bsexual (assault|harassment|abuse)\b`,
			`\b(send|show) (nudes|pics|pictures)\b`,
		),
	},
	{
		flag:  signals.FlagSlurs,
		score: 0.9,
		patterns: compileAll(
			`\bn+i+g+[aer]+s?\b`,
			`\bf+a+g+(ot)?s?\b`,
			`\br+e+t+a+r+d+s?\b`,
		),
	},
	{
		flag:      signals.FlagExtremistContent,
		score:     0.95,
		immediate: true,
		patterns: compileAll(
			`\b(white|black|jewish|muslim) (supremacy|power|genocide)\b`,
			`\b(race|holy) war\b`,
			`\b(ethnic|racial) cleansing\b`,
			`\b(nazi|hitler|holocaust) (was right|did nothing wrong)\b`,
		),
	},
	{
		flag:      signals.FlagSelfHarm,
		score:     0.85,
		immediate: true,
		patterns: compileAll(
			`\b(want to|going to|gonna) (kill myself|commit suicide|end it all)\b`,
			`\b(cutting myself|self harm|self-harm)\b`,
			`\bsuicide (plan|method|note)\b`,
		),
	},
}

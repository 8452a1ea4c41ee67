package detect

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/minio/sha256-simd"
)

// Keyword set names. A keyword file may override any of these, and may add context topics with a
// "context." prefix.
const (
	SetEmotionFear     = "emotion.fear"
	SetEmotionAnger    = "emotion.anger"
	SetEmotionSadness  = "emotion.sadness"
	SetEmotionUrgency  = "emotion.urgency"
	SetActionVerbs     = "cta.action"
	SetActionUrgency   = "cta.urgency"
	SetChildTerms      = "child.terms"
	SetChildVulnerable = "child.vulnerable"
	contextPrefix      = "context."
	SetContextHealth   = contextPrefix + "health"
	SetContextElection = contextPrefix + "election"
	SetContextCommunal = contextPrefix + "communal"
	SetContextDisaster = contextPrefix + "disaster"
)

// Keywords holds named phrase lists. Phrases are stored in token form (see Tokenize), so they are matched
// on word boundaries regardless of punctuation or case.
type Keywords struct {
	sets map[string][]string
}

func DefaultKeywords() *Keywords {
	k := &Keywords{sets: map[string][]string{}}
	for name, l := range defaultKeywordSets {
		k.Set(name, l)
	}
	return k
}

// Set replaces the named list.
func (k *Keywords) Set(name string, phrases []string) {
	out := make([]string, 0, len(phrases))
	seen := map[string]bool{}
	for _, p := range phrases {
		tok := strings.Join(Tokenize(p), " ")
		if tok == "" || seen[tok] {
			continue
		}
		seen[tok] = true
		out = append(out, tok)
	}
	k.sets[name] = out
}

func (k *Keywords) Get(name string) []string {
	return k.sets[name]
}

// Fingerprint identifies the current sets. Two Keywords with the same names and phrases, in any insertion
// order, share a fingerprint.
func (k *Keywords) Fingerprint() string {
	names := make([]string, 0, len(k.sets))
	for name := range k.sets {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	for _, name := range names {
		phrases := append([]string(nil), k.sets[name]...)
		sort.Strings(phrases)
		fmt.Fprintf(h, "%s\x00%s\x01", name, strings.Join(phrases, "\x00"))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ContextTopics returns the configured context topic names, sorted.
func (k *Keywords) ContextTopics() []string {
	var out []string
	for name := range k.sets {
		if strings.HasPrefix(name, contextPrefix) {
			out = append(out, strings.TrimPrefix(name, contextPrefix))
		}
	}
	sort.Strings(out)
	return out
}

// LoadFromFileJSON overlays the sets in a JSON file of the form {"set.name": ["phrase", ...]} on top of
// the current sets.
func (k *Keywords) LoadFromFileJSON(p string) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	raw, err := io.ReadAll(f)
	if err != nil {
		return err
	}

	var sets map[string][]string
	if err := json.Unmarshal(raw, &sets); err != nil {
		return fmt.Errorf("parsing keyword file %s: %w", p, err)
	}
	for name, l := range sets {
		k.Set(name, l)
	}
	return nil
}

var defaultKeywordSets = map[string][]string{
	SetEmotionFear:    {"afraid", "scared", "terrified", "panic", "fear", "worry", "danger", "threat", "risk"},
	SetEmotionAnger:   {"angry", "furious", "outrage", "hate", "rage", "mad", "disgusting", "unacceptable"},
	SetEmotionSadness: {"sad", "tragic", "devastated", "heartbroken", "awful", "terrible"},
	SetEmotionUrgency: {
		"now", "immediately", "urgent", "hurry", "quick", "fast", "asap", "right now", "today", "tonight",
		"must act", "time is running out", "before it's too late", "act now",
	},
	SetActionVerbs: {
		"share", "forward", "retweet", "spread", "tell", "inform", "boycott", "ban", "stop", "report", "flag",
		"expose", "join", "attend", "gather", "meet", "unite", "organize", "fight", "resist", "protest",
		"demand", "act", "take action", "sign", "petition", "call", "contact", "pressure", "wake up",
		"open your eyes", "don't be fooled", "see the truth",
	},
	SetActionUrgency: {
		"now", "immediately", "today", "tonight", "urgent", "must", "need to", "have to", "should",
		"everyone must", "before it's too late", "time is running out", "act fast", "don't wait", "hurry",
	},
	SetChildTerms: {
		"child", "children", "kid", "kids", "minor", "minors", "boy", "girl", "teen", "teenager", "teens",
		"teenagers", "student", "students", "school", "underage", "young", "youth", "juvenile", "adolescent",
	},
	SetChildVulnerable: {
		"abuse", "exploitation", "grooming", "predator", "trafficking", "harm", "danger", "unsafe", "missing",
		"runaway", "recruit", "recruiting", "opportunity", "easy money",
	},
	SetContextHealth: {
		"vaccine", "cure", "treatment", "medicine", "covid", "virus", "disease", "pandemic", "health",
		"doctor", "hospital", "medical", "drug", "remedy", "symptom", "infection", "immunity",
	},
	SetContextElection: {
		"vote", "voting", "election", "ballot", "candidate", "polling", "evm", "rigged", "fraud",
		"manipulation", "counting", "results", "campaign", "political", "party", "minister", "government",
	},
	SetContextCommunal: {
		"riot", "clash", "violence", "attack", "mob", "lynching", "tension", "conflict", "religious",
		"community", "minority", "majority", "protest", "demonstration",
	},
	SetContextDisaster: {
		"earthquake", "flood", "fire", "cyclone", "storm", "disaster", "emergency", "evacuation", "rescue",
		"danger", "warning", "alert", "calamity", "tragedy", "destruction",
	},
}

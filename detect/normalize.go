package detect

import (
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	nonTokenChars = regexp.MustCompile(`[^\pL\pN\s]+`)
	whitespace    = regexp.MustCompile(`\s+`)
)

// foldMarks strips combining marks, so "naïve" and "naive" compare equal.
func foldMarks(s string) string {
	// transformers carry state; build a fresh chain per call
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		slog.Warn("unicode normalization error", "err", err)
		return s
	}
	return out
}

// Normalize lower-cases text, folds combining marks and collapses runs of whitespace. Punctuation is
// kept, since several patterns anchor on it.
func Normalize(text string) string {
	s := foldMarks(strings.ToLower(text))
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// Tokenize splits text into lower-case word tokens. Punctuation inside a word is dropped ("don't" becomes
// "dont"), punctuation between words splits them.
func Tokenize(text string) []string {
	s := strings.ToLower(text)
	s = strings.NewReplacer("'", "", "’", "").Replace(s)
	s = nonTokenChars.ReplaceAllString(s, " ")
	return strings.Fields(foldMarks(s))
}

// tokenText is text prepared for phrase lookups: tokens joined with single spaces and padded at both ends.
type tokenText string

func newTokenText(text string) tokenText {
	return tokenText(" " + strings.Join(Tokenize(text), " ") + " ")
}

// has reports whether the phrase occurs on token boundaries.
func (t tokenText) has(phrase string) bool {
	return strings.Contains(string(t), " "+phrase+" ")
}

// matches returns the phrases of the list which occur in the text, in list order.
func (t tokenText) matches(phrases []string) []string {
	var out []string
	for _, p := range phrases {
		if t.has(p) {
			out = append(out, p)
		}
	}
	return out
}

package match

import (
	"strings"
	"unicode"
)

// foldWhitespace collapses runs of whitespace to single spaces so reflowed
// markdown compares equal to its source.
func foldWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inSpace := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			if !inSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			inSpace = true
			continue
		}
		inSpace = false
		b.WriteRune(r)
	}
	return strings.TrimRight(b.String(), " ")
}

// foldAggressive lowercases and strips punctuation on top of whitespace
// folding. Used for token shortlisting, never for final scoring.
func foldAggressive(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return foldWhitespace(b.String())
}

func tokenSet(s string) map[string]bool {
	out := map[string]bool{}
	for _, tok := range strings.Fields(foldAggressive(s)) {
		out[tok] = true
	}
	return out
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

package match

// Ratio is a normalized edit-distance similarity in [0,1]: 1 minus the
// Levenshtein distance over the longer length. Both inputs are whitespace
// folded first so pure reflow scores 1.0. The metric is monotone in drift:
// every extra substitution can only hold or lower the score, which is the
// property the recovery confidence policy leans on.
func Ratio(a, b string) float64 {
	a = foldWhitespace(a)
	b = foldWhitespace(b)
	if a == b {
		return 1.0
	}
	ra := []rune(a)
	rb := []rune(b)
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	if longest == 0 {
		return 1.0
	}
	d := levenshtein(ra, rb)
	return 1.0 - float64(d)/float64(longest)
}

// levenshtein is the classic two-row dynamic program.
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min3(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// tokenOverlap is a cheap Jaccard similarity over word sets, used only to
// shortlist candidate windows before the exact metric runs.
func tokenOverlap(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if b[tok] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// Package standards turns recurring event patterns into enforceable,
// queryable rules.
//
// Aggregation is a best-effort batch job: it scans a project's decision,
// gotcha, and note events, normalizes and clusters near-duplicate text,
// and promotes clusters that recur often enough into the standards
// snapshot. Promotion is deliberately conservative: when two clusters are
// borderline similar they stay separate, because an under-promoted rule is
// recoverable while a wrongly merged one pollutes every later gate.
package standards

import (
	"regexp"
	"strings"
)

var nonAlnum = regexp.MustCompile(`[^a-z0-9 ]+`)

// stemSuffixes are stripped from word tails so trivial phrasing variants
// ("use breakpoints" / "using breakpoint") normalize together.
var stemSuffixes = []string{"ing", "ed", "es", "s"}

// Normalize reduces event text to a comparable form: casefold, strip
// punctuation, collapse whitespace, and lightly stem each word.
func Normalize(text string) string {
	t := strings.ToLower(text)
	t = nonAlnum.ReplaceAllString(t, " ")
	words := strings.Fields(t)
	for i, w := range words {
		words[i] = stemWord(w)
	}
	return strings.Join(words, " ")
}

// stemWord strips one common suffix from words long enough to survive it.
func stemWord(w string) string {
	for _, suf := range stemSuffixes {
		if strings.HasSuffix(w, suf) && len(w)-len(suf) >= 3 {
			return w[:len(w)-len(suf)]
		}
	}
	return w
}

// levenshtein computes the edit distance between two strings.
func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
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

// Similarity returns a 0..1 score between two normalized strings, where 1
// is identical. Defined as 1 - editDistance/maxLen.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	maxLen := len([]rune(a))
	if l := len([]rune(b)); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 1
	}
	return 1 - float64(levenshtein(a, b))/float64(maxLen)
}

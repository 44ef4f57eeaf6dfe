// Package textmatch scores the similarity of merchant and description labels.
// It is shared by recurring pattern detection and ongoing matching so both
// judge text the same way.
package textmatch

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

const (
	scoreExact     = 100
	scoreSubstring = 80
)

// Similarity returns a score in [0,100] for two labels. Comparison is
// case-insensitive after trimming. Equal strings score 100, a substring
// relation scores 80, anything else falls back to edit distance scaled by the
// longer length and clamped at 0.
func Similarity(a, b string) int {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == b {
		return scoreExact
	}
	if a == "" || b == "" {
		return 0
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return scoreSubstring
	}
	dist := levenshtein.ComputeDistance(a, b)
	longest := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longest {
		longest = n
	}
	score := scoreExact - (scoreExact*dist)/longest
	if score < 0 {
		score = 0
	}
	return score
}

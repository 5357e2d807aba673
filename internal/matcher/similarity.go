package matcher

import (
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Similarity converts rune-level edit distance into a 0..1 score.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

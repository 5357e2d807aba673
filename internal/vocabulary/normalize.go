package vocabulary

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Normalize folds a phrase to its canonical comparison form: NFC, lower case,
// trimmed, with internal whitespace collapsed to single spaces.
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	// cases.Caser is stateful; one per call keeps Normalize goroutine-safe.
	lowered := cases.Lower(language.Und).String(norm.NFC.String(raw))
	return strings.Join(strings.Fields(lowered), " ")
}

// NormalizeAll normalizes and dedupes phrases, dropping empties. Input order is kept.
func NormalizeAll(raw []string) []string {
	seen := make(map[string]struct{}, len(raw))
	out := make([]string, 0, len(raw))
	for _, phrase := range raw {
		phrase = Normalize(phrase)
		if phrase == "" {
			continue
		}
		if _, dup := seen[phrase]; dup {
			continue
		}
		seen[phrase] = struct{}{}
		out = append(out, phrase)
	}
	return out
}

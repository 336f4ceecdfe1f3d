// Package dedupe finds near-duplicate offerings while keeping size and
// gender variants apart.
package dedupe

import (
	"strings"

	"github.com/agext/levenshtein"
	"golang.org/x/text/unicode/norm"
)

// Normalize lowercases s in NFC form with surrounding space trimmed, so
// composed and decomposed spellings of "ü" compare equal.
func Normalize(s string) string {
	return strings.ToLower(norm.NFC.String(strings.TrimSpace(s)))
}

// Distance is the Levenshtein edit distance between the normalized forms of
// a and b, counted in code points.
func Distance(a, b string) int {
	return levenshtein.Distance(Normalize(a), Normalize(b), nil)
}

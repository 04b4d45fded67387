// Package textutil holds the text normalization and similarity helpers shared
// by the fusion and verification stages. Matching is always performed on
// normalized text; the raw token text is preserved for reporting and for the
// rules (like the health warning) that are punctuation-sensitive.
package textutil

import (
	"strings"
	"unicode"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
)

var lev = metrics.NewLevenshtein()

// NormalizeWord lowercases s and strips everything outside [a-z0-9]. Detector
// noise like trailing periods, registered-trademark glyphs and stray pipes
// disappears, so "Brewing," and "BREWING" compare equal.
func NormalizeWord(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// NormalizeWords splits s on whitespace and normalizes each word, dropping
// words that normalize to nothing.
func NormalizeWords(s string) []string {
	fields := strings.FieldsFunc(s, unicode.IsSpace)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if n := NormalizeWord(f); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// NormalizePhrase is NormalizeWords joined back with single spaces, the form
// entity matching compares spans against.
func NormalizePhrase(s string) string {
	return strings.Join(NormalizeWords(s), " ")
}

// Similarity returns a Levenshtein-based ratio in [0,1]. Both-empty strings
// are identical; one-sided empties share nothing.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	return strutil.Similarity(a, b, lev)
}

// Ratio is Similarity on the 0-100 scale detector fusion thresholds use.
func Ratio(a, b string) float64 {
	return Similarity(a, b) * 100
}

// Package transcript locates a keyword inside a time-aligned transcript and
// derives the splice interval that personalization replaces.
package transcript

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// normalizer decomposes to NFKD, strips combining marks and punctuation, and
// case-folds. Applying it twice is a no-op, which keyword matching relies on.
var normalizer = transform.Chain(
	norm.NFKD,
	runes.Remove(runes.In(unicode.Mn)),
	runes.Remove(runes.In(unicode.P)),
)

// NormalizeToken returns the canonical matching form of a token: diacritics
// and punctuation removed, case-folded, surrounding whitespace trimmed.
func NormalizeToken(s string) string {
	if s == "" {
		return ""
	}

	out, _, err := transform.String(normalizer, s)
	if err != nil {
		// Removal transforms cannot fail on valid UTF-8; fall back to
		// the raw token for garbage input.
		out = s
	}

	return strings.ToLower(strings.TrimSpace(out))
}

package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var lowerFold = cases.Lower(language.Und)

// foldASCII strips diacritics so "Mikrofón" becomes "Mikrofon".
func foldASCII(value string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, value)
	if err != nil {
		return value
	}
	return out
}

// SanitizeIdentifier reduces value to [a-z0-9_], collapsing runs of any other
// character into a single underscore and trimming underscores from both ends.
// The result is truncated to maxLen bytes when maxLen > 0. Returns "" when
// nothing usable remains.
func SanitizeIdentifier(value string, maxLen int) string {
	value = lowerFold.String(foldASCII(strings.TrimSpace(value)))
	var b strings.Builder
	pendingSep := false
	for _, r := range value {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}
	return Truncate(b.String(), maxLen)
}

// Truncate shortens an identifier to maxLen bytes without leaving a trailing
// underscore. maxLen <= 0 disables truncation.
func Truncate(value string, maxLen int) string {
	if maxLen <= 0 || len(value) <= maxLen {
		return value
	}
	return strings.TrimRight(value[:maxLen], "_")
}

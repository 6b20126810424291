package core

import (
	"regexp"
	"strings"
	"unicode"
)

var nonSlugChars = regexp.MustCompile(`[^\p{L}\p{N}]+`)

// CleanString trims all leading and trailing whitespace in `s` and optionally lowers it.
func CleanString(s string, lower ...bool) string {
	s = strings.TrimSpace(s)
	if len(lower) > 0 && lower[0] {
		return strings.ToLower(s)
	}
	return s
}

// Slugify turns `s` into a lower-cased, dash separated identifier.
// Letters outside of ASCII (e.g. Persian) are kept as is.
func Slugify(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.Is(unicode.Mn, r) {
			return -1
		}
		return r
	}, CleanString(s, true))
	return strings.Trim(nonSlugChars.ReplaceAllString(s, "-"), "-")
}

// Package slug generates URL-friendly share slugs for public collections.
package slug

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	nonAlnum = regexp.MustCompile("[^a-z0-9-]+")
	hyphens  = regexp.MustCompile("-+")
)

// Generate creates a URL-friendly slug from a string.
func Generate(s string) string {
	if s == "" {
		return ""
	}

	s = strings.ToLower(s)
	s = transliterate(s)
	s = strings.ReplaceAll(s, " ", "-")
	s = strings.ReplaceAll(s, "_", "-")
	s = nonAlnum.ReplaceAllString(s, "")
	s = hyphens.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")

	if len(s) > 100 {
		s = strings.TrimRight(s[:100], "-")
	}
	return s
}

// ForCollection builds the share slug for a public collection:
// the collection name followed by the first id octets for uniqueness.
func ForCollection(name, id string) string {
	suffix := id
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	base := Generate(name)
	if base == "" {
		return suffix
	}
	return base + "-" + suffix
}

// transliterate converts unicode characters to ASCII equivalents by
// stripping combining marks after decomposition.
func transliterate(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

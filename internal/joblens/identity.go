package joblens

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeText lower-cases, strips diacritics, and collapses whitespace so
// that cosmetic differences between listings do not defeat deduplication.
func NormalizeText(s string) string {
	folded, _, err := transform.String(foldTransformer, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// Placeholder hrefs some result pages use instead of a real destination.
var placeholderLinks = map[string]struct{}{
	"":                   {},
	"#":                  {},
	"javascript:void(0)": {},
	"javascript:;":       {},
	"about:blank":        {},
}

// IsPlaceholderLink reports whether href is an anchor-only or script-only
// link that requires resolution through a secondary tab.
func IsPlaceholderLink(href string) bool {
	href = strings.TrimSpace(href)
	if _, ok := placeholderLinks[href]; ok {
		return true
	}
	return strings.HasPrefix(href, "#")
}

// IsAbsoluteURL reports whether raw is usable as a final destination URL.
func IsAbsoluteURL(raw string) bool {
	return strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://")
}

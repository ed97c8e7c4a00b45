package util

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fold lowercases s and strips combining accents ("Razón" -> "razon").
// Ñ folds to n as well, so never fold a taxpayer identifier.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(out)
}

// ContainsFolded reports whether keyword occurs in text, ignoring case and accents
func ContainsFolded(text, keyword string) bool {
	return strings.Contains(Fold(text), Fold(keyword))
}

// Truncate cuts s to at most n runes
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// CollapseSpace replaces whitespace runs with single spaces and trims
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// StrPtr returns nil for blank strings
func StrPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

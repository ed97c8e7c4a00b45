package extract

import (
	"regexp"
	"strings"
)

var (
	rfcExact = regexp.MustCompile(`^[A-ZÑ&]{3,4}[0-9]{6}[A-Z0-9]{3}$`)
	rfcToken = regexp.MustCompile(`[A-ZÑ&]{3,4}[0-9]{6}[A-Z0-9]{3}`)
)

// NormalizeRFC trims and upper-cases a candidate identifier, returning "" when
// it is not a syntactically valid RFC
func NormalizeRFC(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "-", "")
	if !rfcExact.MatchString(s) {
		return ""
	}
	return s
}

// IsRFC reports whether s is a syntactically valid RFC
func IsRFC(s string) bool {
	return NormalizeRFC(s) != ""
}

// FindTaxpayerIDs sweeps free text for bare RFC tokens, unique and in order of appearance
func FindTaxpayerIDs(text string) []string {
	upper := strings.ToUpper(text)
	locs := rfcToken.FindAllStringIndex(upper, -1)

	seen := make(map[string]bool)
	var out []string
	for _, loc := range locs {
		if !tokenBoundary(upper, loc[0], loc[1]) {
			continue
		}
		id := upper[loc[0]:loc[1]]
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// tokenBoundary rejects matches glued to surrounding letters or digits
func tokenBoundary(s string, start, end int) bool {
	if start > 0 && isWordByte(s[start-1]) {
		return false
	}
	if end < len(s) && isWordByte(s[end]) {
		return false
	}
	return true
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= '0' && b <= '9') || (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}

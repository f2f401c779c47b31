package lifecycle

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// NormalizeName trims raw and validates it. An empty result means Unnamed.
func NormalizeName(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "", nil
	}
	if !utf8.ValidString(name) {
		return "", invalid("name", "name must be valid UTF-8")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", invalid("name", "name must be at most 64 characters")
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return "", invalid("name", "name must not contain control characters")
		}
	}
	return name, nil
}

func normalizeSubaccount(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

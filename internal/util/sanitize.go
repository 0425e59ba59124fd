package util

import (
	"regexp"
	"strings"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// SanitizeString strips control characters from creator-supplied text and
// bounds its length in runes.
func SanitizeString(value string, maxLength int) string {
	if value == "" {
		return ""
	}
	cleaned := strings.Map(func(r rune) rune {
		if r == '\t' || r == '\n' || r == '\r' {
			return r
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, value)
	runes := []rune(cleaned)
	if maxLength > 0 && len(runes) > maxLength {
		runes = runes[:maxLength]
	}
	return strings.TrimSpace(string(runes))
}

// IsEmail reports whether the value is a plausible email address.
func IsEmail(value string) bool {
	return len(value) <= 255 && emailPattern.MatchString(value)
}

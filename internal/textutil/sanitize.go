package textutil

import (
	"strings"
	"unicode"
)

// SanitizeFileName makes name safe as a single path element. Separators,
// colons and asterisks become dashes; other reserved and control characters
// are dropped. "." and ".." sanitize to "".
func SanitizeFileName(name string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r == '/', r == '\\', r == ':', r == '*':
			return '-'
		case strings.ContainsRune(`?"<>|`, r), unicode.IsControl(r):
			return -1
		}
		return r
	}, name)
	mapped = strings.TrimSpace(mapped)
	if mapped == "." || mapped == ".." {
		return ""
	}
	return mapped
}

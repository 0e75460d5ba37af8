package utils

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// NormalizeWhitespace replaces multiple whitespace with single space.
func NormalizeWhitespace(str string) string {
	return strings.Join(strings.Fields(str), " ")
}

// Preview collapses whitespace and truncates to maxWidth display columns,
// counting wide (CJK) characters as two.
func Preview(str string, maxWidth int) string {
	str = NormalizeWhitespace(str)
	if runewidth.StringWidth(str) <= maxWidth {
		return str
	}

	return runewidth.Truncate(str, maxWidth, "...")
}

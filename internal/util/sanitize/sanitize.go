// Package sanitize cleans server-provided text before it is written to a
// terminal.
//
// Catalog paths and group keys come from scanned filesystems and may contain
// anything a filename can:
//   - control characters, including ESC, that would be interpreted by the terminal
//   - line breaks that would split one row into several
//   - invisible Unicode characters (zero-width spaces, etc.)
package sanitize

import (
	"strings"
	"unicode"
)

// invisible lists zero-width characters that render as nothing but still
// occupy a rune.
var invisible = map[rune]bool{
	'\u200B': true, // Zero-width space
	'\u200C': true, // Zero-width non-joiner
	'\u200D': true, // Zero-width joiner
	'\uFEFF': true, // Zero-width no-break space (BOM)
	'\u00AD': true, // Soft hyphen
	'\u2060': true, // Word joiner
	'\u180E': true, // Mongolian vowel separator
}

// DisplayText returns s with control characters replaced by U+FFFD and
// invisible characters removed. Tabs and line breaks become single spaces.
func DisplayText(s string) string {
	if s == "" || isClean(s) {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			b.WriteByte(' ')
		case invisible[r]:
		case unicode.IsControl(r):
			b.WriteRune(unicode.ReplacementChar)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// isClean is the fast path for the common all-printable string.
func isClean(s string) bool {
	for _, r := range s {
		if unicode.IsControl(r) || invisible[r] {
			return false
		}
	}
	return true
}

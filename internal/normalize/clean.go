package normalize

import (
	"strings"
	"unicode/utf8"
)

// CleanText strips control characters other than newline and tab. Invalid
// UTF-8 sequences are replaced with U+FFFD; validUTF8 reports whether any
// replacement happened. All other characters are left untouched.
func CleanText(s string) (cleaned string, validUTF8 bool) {
	validUTF8 = utf8.ValidString(s)
	if !validUTF8 {
		s = strings.ToValidUTF8(s, "\uFFFD")
	}
	return strings.Map(func(r rune) rune {
		if isStrippedControl(r) {
			return -1
		}
		return r
	}, s), validUTF8
}

func isStrippedControl(r rune) bool {
	switch {
	case r == '\n' || r == '\t':
		return false
	case r < 0x20, r == 0x7f:
		return true
	case r >= 0x80 && r <= 0x9f:
		return true
	default:
		return false
	}
}

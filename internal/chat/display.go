package chat

import (
	"strings"
	"unicode"
)

// DisplayText prepares stored text for a terminal. Control characters other
// than newline and tab are dropped so a message cannot emit escape sequences;
// everything else, markup included, is shown as typed.
func DisplayText(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}

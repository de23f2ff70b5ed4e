package dawsync

import "strings"

// SanitizeText removes null characters and other control characters from
// text fields supplied by clients. Newlines and tabs stay.
func SanitizeText(text string) string {
	if text == "" {
		return text
	}
	return strings.Map(func(r rune) rune {
		if r >= 32 || r == '\n' || r == '\r' || r == '\t' {
			return r
		}
		return -1
	}, text)
}

package service

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

const maxFieldLength = 200

// sanitizeField makes customer and catalog text safe to interpolate into a
// license document: NFC normalized, control characters removed, runs of
// whitespace collapsed to one space, and capped at maxRunes.
func sanitizeField(s string, maxRunes int) string {
	s = norm.NFC.String(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		case unicode.IsControl(r), r == unicode.ReplacementChar:
		case unicode.Is(unicode.Cf, r):
		default:
			b.WriteRune(r)
		}
	}

	out := strings.Join(strings.Fields(b.String()), " ")
	if r := []rune(out); len(r) > maxRunes {
		out = strings.TrimSpace(string(r[:maxRunes]))
	}
	return out
}

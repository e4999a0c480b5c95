package loader

import (
	"strings"
	"unicode"
)

// Normalize canonicalizes extracted text so the same source always yields the
// same chunk boundaries: line endings become \n, control characters are
// dropped, runs of blanks collapse to one space, more than one empty line
// collapses to a single paragraph break, and the result is trimmed.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")

	var b strings.Builder
	b.Grow(len(s))

	blank := false // previous rune was a collapsed space
	newlines := 0  // consecutive newlines written
	for _, r := range s {
		switch {
		case r == '\n':
			if newlines >= 2 {
				continue
			}
			// Trailing blanks before a line break are dropped.
			if blank {
				trimTrailingSpace(&b)
				blank = false
			}
			b.WriteRune('\n')
			newlines++
		case r == ' ' || r == '\t' || r == '\u00a0':
			if blank || newlines > 0 || b.Len() == 0 {
				continue
			}
			b.WriteRune(' ')
			blank = true
		case unicode.IsControl(r) || r == unicode.ReplacementChar:
			continue
		default:
			b.WriteRune(r)
			blank = false
			newlines = 0
		}
	}

	return strings.TrimSpace(b.String())
}

// trimTrailingSpace removes one trailing ASCII space from b.
func trimTrailingSpace(b *strings.Builder) {
	s := b.String()
	if strings.HasSuffix(s, " ") {
		s = s[:len(s)-1]
		b.Reset()
		b.WriteString(s)
	}
}

package codes

import (
	"strings"
	"unicode/utf8"
)

// Sanitize removes bytes and runes that must never reach the database:
// NUL and other ASCII controls except tab, CR and LF; DEL; C1 controls;
// invalid UTF-8. Clean input is returned unchanged without allocating
func Sanitize(s string) string {
	n := len(s)
	i := 0
	for i < n {
		b := s[i]
		if b < 0x20 {
			if b == '\n' || b == '\r' || b == '\t' {
				i++
				continue
			}
			break
		}
		if b == 0x7F {
			break
		}
		if b < 0x80 {
			i++
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if (r == utf8.RuneError && size == 1) || (r >= 0x80 && r <= 0x9F) {
			break
		}
		i += size
	}
	if i == n {
		return s
	}

	var out strings.Builder
	out.Grow(n)
	out.WriteString(s[:i])
	for i < n {
		c := s[i]
		switch {
		case c < 0x20:
			if c == '\n' || c == '\r' || c == '\t' {
				out.WriteByte(c)
			}
			i++
			continue
		case c == 0x7F:
			i++
			continue
		case c < 0x80:
			out.WriteByte(c)
			i++
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			i++
			continue
		}
		if r < 0x80 || r > 0x9F {
			out.WriteString(s[i : i+size])
		}
		i += size
	}
	return out.String()
}

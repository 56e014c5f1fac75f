package provider

import "strings"

// CleanISBN reduces a catalogued ISBN such as "ISBN-13: 978-0-262-03384-8"
// or "0441013597 (pbk.)" to its digits and check character. Qualifiers
// after the number are dropped.
func CleanISBN(raw string) string {
	s := strings.TrimSpace(raw)
	if i := strings.IndexByte(s, ':'); i >= 0 && strings.HasPrefix(strings.ToLower(s), "isbn") {
		s = s[i+1:]
	}
	if i := strings.IndexByte(s, '('); i >= 0 {
		s = s[:i]
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == 'x', r == 'X':
			return r
		}
		return -1
	}, s)
}

package pvfs

import (
	"strings"
	"unicode"
)

// wildcardChars are the CIFS pattern metacharacters. '<', '>' and '"' are
// the DOS_STAR, DOS_QM and DOS_DOT forms.
const wildcardChars = `*?<>"`

func hasWildcard(s string) bool {
	return strings.ContainsAny(s, wildcardChars)
}

// matchPattern applies the CIFS matching rules, case-insensitively.
//
//	*  any sequence
//	?  any one character
//	<  any sequence not crossing the final '.'
//	>  any one character, or nothing before a '.' or at the end
//	"  a '.', or nothing at the end
func matchPattern(pattern, name string) bool {
	if pattern == "" {
		return name == ""
	}
	if pattern == "*" || pattern == "*.*" {
		return true
	}
	if !hasWildcard(pattern) {
		return strings.EqualFold(pattern, name)
	}
	return wildMatch(foldRunes(pattern), foldRunes(name))
}

func foldRunes(s string) []rune {
	r := []rune(s)
	for i := range r {
		r[i] = unicode.ToUpper(r[i])
	}
	return r
}

func lastDot(n []rune) int {
	for i := len(n) - 1; i >= 0; i-- {
		if n[i] == '.' {
			return i
		}
	}
	return -1
}

func wildMatch(p, n []rune) bool {
	for len(p) > 0 {
		c := p[0]
		p = p[1:]
		switch c {
		case '*':
			for len(p) > 0 && p[0] == '*' {
				p = p[1:]
			}
			if len(p) == 0 {
				return true
			}
			for i := 0; i <= len(n); i++ {
				if wildMatch(p, n[i:]) {
					return true
				}
			}
			return false
		case '<':
			lim := len(n)
			if d := lastDot(n); d >= 0 {
				lim = d
			}
			for i := 0; i <= lim; i++ {
				if wildMatch(p, n[i:]) {
					return true
				}
			}
			return false
		case '?':
			if len(n) == 0 {
				return false
			}
			n = n[1:]
		case '>':
			if len(n) > 0 && n[0] != '.' {
				n = n[1:]
			}
		case '"':
			if len(n) == 0 {
				continue
			}
			if n[0] != '.' {
				return false
			}
			n = n[1:]
		default:
			if len(n) == 0 || n[0] != c {
				return false
			}
			n = n[1:]
		}
	}
	return len(n) == 0
}

package pvfs

import (
	"strings"

	"github.com/creachadair/cityhash"

	"pvfs/internal/cache"
)

// 8.3 short names follow the hash2 layout: prefix characters of the long
// name, base-36 hash characters up to position 6, a '~' and one final hash
// character. A prefix of P leaves 7-P hash characters.
const (
	mangleBaseLen = 8
	mangleTilde   = 6
	mangleChars   = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

var reservedDOSNames = func() map[string]bool {
	m := map[string]bool{"CON": true, "AUX": true, "NUL": true, "PRN": true}
	for i := '1'; i <= '9'; i++ {
		m["COM"+string(i)] = true
		m["LPT"+string(i)] = true
	}
	return m
}()

// shortChar reports whether c may appear in an 8.3 name.
func shortChar(c byte) bool {
	switch {
	case c >= '0' && c <= '9', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		return true
	}
	return strings.IndexByte("_-$~", c) >= 0
}

func upperASCII(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}

type mangler struct {
	prefix int
	names  *cache.NameCache
}

func newMangler(prefix int, names *cache.NameCache) *mangler {
	if prefix < 1 || prefix > 6 {
		prefix = 1
	}
	return &mangler{prefix: prefix, names: names}
}

func reservedName(name string) bool {
	base := name
	if i := strings.IndexByte(name, '.'); i >= 0 {
		base = name[:i]
	}
	return reservedDOSNames[strings.ToUpper(base)]
}

// isLegal83 reports whether name already is a valid short name.
func isLegal83(name string) bool {
	if name == "." || name == ".." {
		return true
	}
	if len(name) == 0 || len(name) > 12 || reservedName(name) {
		return false
	}
	dot := strings.IndexByte(name, '.')
	if dot < 0 {
		if len(name) > mangleBaseLen {
			return false
		}
	} else {
		if dot == 0 || dot > mangleBaseLen || len(name)-dot-1 > 3 || strings.IndexByte(name[dot+1:], '.') >= 0 {
			return false
		}
		if dot == len(name)-1 {
			return false
		}
	}
	for i := 0; i < len(name); i++ {
		if i == dot {
			continue
		}
		if !shortChar(name[i]) {
			return false
		}
	}
	return true
}

// isMangled reports whether name has the shape of a generated short name.
func (m *mangler) isMangled(name string) bool {
	base := name
	if i := strings.IndexByte(name, '.'); i >= 0 {
		base = name[:i]
		ext := name[i+1:]
		if len(ext) == 0 || len(ext) > 3 {
			return false
		}
	}
	if len(base) != mangleBaseLen || base[mangleTilde] != '~' {
		return false
	}
	for i := m.prefix; i < mangleBaseLen; i++ {
		if i == mangleTilde {
			continue
		}
		if strings.IndexByte(mangleChars, upperASCII(base[i])) < 0 {
			return false
		}
	}
	return true
}

// extension returns the upper-cased short extension of name, cut to three
// characters, or "" when the part after the last dot cannot serve as one.
func extension(name string) (string, int) {
	dot := strings.LastIndexByte(name, '.')
	if dot <= 0 {
		return "", -1
	}
	ext := name[dot+1:]
	if len(ext) == 0 {
		return "", -1
	}
	if len(ext) > 3 {
		ext = ext[:3]
	}
	var b strings.Builder
	for i := 0; i < len(ext); i++ {
		if !shortChar(ext[i]) {
			return "", -1
		}
		b.WriteByte(upperASCII(ext[i]))
	}
	return b.String(), dot
}

// shortName returns the 8.3 name clients see for name. Legal short names
// are returned unchanged. Every generated name is remembered for reverse
// lookup.
func (m *mangler) shortName(name string) string {
	if isLegal83(name) {
		return name
	}
	upper := strings.ToUpper(name)
	v := cityhash.Hash32([]byte(upper))

	ext, dot := extension(name)
	lead := name
	if dot >= 0 {
		lead = name[:dot]
	}

	out := make([]byte, mangleBaseLen)
	for i := 0; i < m.prefix; i++ {
		c := byte('_')
		if i < len(lead) && shortChar(lead[i]) && lead[i] != '~' {
			c = upperASCII(lead[i])
		}
		out[i] = c
	}
	out[mangleBaseLen-1] = mangleChars[v%36]
	out[mangleTilde] = '~'
	for i := mangleTilde - 1; i >= m.prefix; i-- {
		v /= 36
		out[i] = mangleChars[v%36]
	}

	short := string(out)
	if ext != "" {
		short += "." + ext
	}
	m.names.Add(short, name)
	return short
}

// lookup returns the long name a short name was generated from, if it is
// still cached.
func (m *mangler) lookup(short string) (string, bool) {
	if !m.isMangled(short) {
		return "", false
	}
	return m.names.Lookup(short)
}

// matchesShort reports whether long mangles to short.
func (m *mangler) matchesShort(long, short string) bool {
	return strings.EqualFold(m.shortName(long), short)
}

// ShortName returns the 8.3 name generated for name with the given number
// of preserved leading characters. Legal short names come back unchanged.
func ShortName(prefix int, name string) string {
	return newMangler(prefix, cache.NewNameCache(1)).shortName(name)
}

// Package pattern compiles and scans for fixed-length byte signatures with
// wildcard positions.
package pattern

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrEmpty is returned for a pattern with no tokens.
var ErrEmpty = errors.New("empty pattern")

// Pattern is an ordered sequence of tokens, each a literal byte or a wildcard.
// The zero value is an empty pattern and matches nothing.
type Pattern struct {
	literal []byte
	// wild[i] marks token i as matching any byte.
	wild []bool
}

// FromBytes builds a pattern from raw bytes where every occurrence of wildcard
// is a wildcard token. A literal byte equal to wildcard cannot be expressed
// this way.
func FromBytes(raw []byte, wildcard byte) Pattern {
	p := Pattern{
		literal: append([]byte(nil), raw...),
		wild:    make([]bool, len(raw)),
	}
	for i, b := range raw {
		p.wild[i] = b == wildcard
	}
	return p
}

// Parse compiles a textual signature such as "55 8B EC ?? ?? 53".
// Tokens are separated by whitespace; each token is two hex digits, or "?" or
// "??" for a wildcard. A token-free run of hex digits ("558BEC") is also accepted.
func Parse(sig string) (Pattern, error) {
	var p Pattern
	for _, tok := range strings.Fields(sig) {
		if tok == "?" || tok == "??" {
			p.literal = append(p.literal, 0)
			p.wild = append(p.wild, true)
			continue
		}
		if len(tok)%2 != 0 {
			return Pattern{}, fmt.Errorf("invalid signature token %q", tok)
		}
		b, err := hex.DecodeString(tok)
		if err != nil {
			return Pattern{}, fmt.Errorf("invalid signature token %q: %w", tok, err)
		}
		p.literal = append(p.literal, b...)
		p.wild = append(p.wild, make([]bool, len(b))...)
	}
	if p.Len() == 0 {
		return Pattern{}, ErrEmpty
	}
	return p, nil
}

// MustParse is like Parse but panics on error.
func MustParse(sig string) Pattern {
	p, err := Parse(sig)
	if err != nil {
		panic(err)
	}
	return p
}

// Len returns the number of tokens.
func (p Pattern) Len() int {
	return len(p.literal)
}

// Raw encodes the pattern as raw bytes using wildcard for wildcard tokens.
// It fails when a literal token equals wildcard, since the encoding would turn
// it into a wildcard.
func (p Pattern) Raw(wildcard byte) ([]byte, error) {
	out := make([]byte, p.Len())
	for i, b := range p.literal {
		if p.wild[i] {
			out[i] = wildcard
			continue
		}
		if b == wildcard {
			return nil, fmt.Errorf("literal %#02x at position %d collides with wildcard byte", b, i)
		}
		out[i] = b
	}
	return out, nil
}

// String renders the pattern in the form accepted by Parse.
func (p Pattern) String() string {
	var sb strings.Builder
	for i, b := range p.literal {
		if i > 0 {
			sb.WriteByte(' ')
		}
		if p.wild[i] {
			sb.WriteString("??")
			continue
		}
		fmt.Fprintf(&sb, "%02X", b)
	}
	return sb.String()
}

// MatchAt reports whether the pattern matches data at offset off.
func (p Pattern) MatchAt(data []byte, off int) bool {
	if off < 0 || p.Len() == 0 || off > len(data)-p.Len() {
		return false
	}
	window := data[off : off+p.Len()]
	for i, b := range p.literal {
		if !p.wild[i] && window[i] != b {
			return false
		}
	}
	return true
}

// Find returns the lowest offset at which the pattern matches data, or -1.
// Candidate offsets run from 0 to len(data)-Len() inclusive.
func (p Pattern) Find(data []byte) int {
	return p.findFrom(data, 0)
}

// FindAll returns every matching offset in ascending order. Matches may overlap.
func (p Pattern) FindAll(data []byte) []int {
	var out []int
	for off := p.findFrom(data, 0); off >= 0; off = p.findFrom(data, off+1) {
		out = append(out, off)
	}
	return out
}

func (p Pattern) findFrom(data []byte, start int) int {
	n := p.Len()
	if n == 0 || n > len(data) {
		return -1
	}
	// Anchor on the first literal token so bytes.IndexByte can skip ahead.
	anchor := -1
	for i, w := range p.wild {
		if !w {
			anchor = i
			break
		}
	}
	last := len(data) - n
	for off := start; off <= last; off++ {
		if anchor >= 0 {
			j := bytes.IndexByte(data[off+anchor:last+anchor+1], p.literal[anchor])
			if j < 0 {
				return -1
			}
			off += j
		}
		if p.MatchAt(data, off) {
			return off
		}
	}
	return -1
}

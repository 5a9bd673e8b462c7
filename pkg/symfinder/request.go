package symfinder

import (
	"bytes"
	"errors"
	"fmt"
)

// DefaultSentinel prefixes a request that names a symbol.
const DefaultSentinel = '@'

// DefaultWildcard is the byte that matches anything in a raw pattern.
const DefaultWildcard = 0x2A

var (
	errZeroLength = errors.New("pattern request has zero length")
	errEmptyName  = errors.New("symbol request has an empty name")
)

// RequestKind tags a parsed Request.
type RequestKind int

const (
	// RequestName looks a symbol up by name.
	RequestName RequestKind = iota + 1
	// RequestPattern scans for a wildcard byte pattern.
	RequestPattern
)

func (k RequestKind) String() string {
	switch k {
	case RequestName:
		return "name"
	case RequestPattern:
		return "pattern"
	default:
		return fmt.Sprintf("request(%d)", int(k))
	}
}

// Request is a decoded resolution target.
type Request struct {
	Kind    RequestKind
	Name    string
	Pattern []byte
}

// ParseRequest decodes a raw resolution target.
//
// Data starting with sentinel names a symbol: the rest, up to the first NUL,
// is the name, and length is ignored. Any other data is a pattern made of its
// first length bytes. A pattern request with zero length is invalid.
func ParseRequest(data []byte, length int, sentinel byte) (Request, error) {
	if len(data) > 0 && data[0] == sentinel {
		name := data[1:]
		if i := bytes.IndexByte(name, 0); i >= 0 {
			name = name[:i]
		}
		if len(name) == 0 {
			return Request{}, errEmptyName
		}
		return Request{Kind: RequestName, Name: string(name)}, nil
	}
	if length <= 0 {
		return Request{}, errZeroLength
	}
	if length > len(data) {
		return Request{}, fmt.Errorf("pattern length %d exceeds %d supplied bytes", length, len(data))
	}
	return Request{Kind: RequestPattern, Pattern: append([]byte(nil), data[:length]...)}, nil
}

// NameRequest encodes a symbol name as a sentinel-prefixed, NUL-terminated request.
func NameRequest(name string, sentinel byte) []byte {
	out := make([]byte, 0, len(name)+2)
	out = append(out, sentinel)
	out = append(out, name...)
	return append(out, 0)
}

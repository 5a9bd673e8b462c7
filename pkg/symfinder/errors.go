package symfinder

import (
	"errors"
	"fmt"

	"github.com/coral-mesh/symfinder/internal/binfmt"
)

// ErrNoResult is the single failure signal of the resolver. Every error returned
// by a Finder method matches it with errors.Is.
var ErrNoResult = errors.New("no result")

// Kind classifies why a resolution produced no result. It is diagnostic only:
// callers are expected to branch on ErrNoResult, not on Kind.
type Kind int

const (
	// KindInvalidHandle means the handle or module name was not recognized by the host.
	KindInvalidHandle Kind = iota + 1
	// KindUnsupportedFormat means a header did not match the configured target.
	KindUnsupportedFormat
	// KindIOFailure means the module's backing file could not be opened or mapped.
	KindIOFailure
	// KindMissingSection means the symbol or string table is absent.
	KindMissingSection
	// KindNotFound means the module was fully searched without a match.
	KindNotFound
	// KindInvalidRequest means the request could not be dispatched.
	KindInvalidRequest
)

func (k Kind) String() string {
	switch k {
	case KindInvalidHandle:
		return "invalid_handle"
	case KindUnsupportedFormat:
		return "unsupported_format"
	case KindIOFailure:
		return "io_failure"
	case KindMissingSection:
		return "missing_section"
	case KindNotFound:
		return "not_found"
	case KindInvalidRequest:
		return "invalid_request"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error describes a failed resolution.
type Error struct {
	Op   string
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("symfinder: %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("symfinder: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is makes every *Error match ErrNoResult.
func (e *Error) Is(target error) bool {
	return target == ErrNoResult
}

// KindOf returns the Kind of err, or 0 when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// classify maps a parser error onto the taxonomy. Anything the parsers did not
// flag is a failure to read the backing file.
func classify(err error) Kind {
	switch {
	case errors.Is(err, binfmt.ErrMissingSection):
		return KindMissingSection
	case errors.Is(err, binfmt.ErrUnsupportedFormat), errors.Is(err, binfmt.ErrOutOfBounds):
		return KindUnsupportedFormat
	default:
		return KindIOFailure
	}
}

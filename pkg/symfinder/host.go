package symfinder

import (
	"fmt"
	"io"

	"github.com/coral-mesh/symfinder/internal/binfmt"
)

// Handle is an opaque module handle issued by the host's dynamic loader.
// The resolver borrows it for the duration of a call and never releases it,
// except for handles it opened itself.
type Handle uintptr

// ModuleInfo is what the host knows about a loaded module.
type ModuleInfo struct {
	Base uintptr
	Path string
}

// Region is the span of memory treated as a module. It is recomputed on every
// call from the module header.
type Region struct {
	Base uintptr
	Size uint64
}

// End returns the first address past the region.
func (r Region) End() uintptr {
	return r.Base + uintptr(r.Size)
}

// Loader opens and releases modules by name.
type Loader interface {
	// Open loads the named module with immediate binding and local visibility.
	Open(name string) (Handle, error)
	// Close drops the reference taken by Open. The module stays mapped while
	// other references remain.
	Close(h Handle) error
}

// Introspector maps handles to the module they refer to.
type Introspector interface {
	Module(h Handle) (ModuleInfo, error)
}

// Memory gives read access to mapped process memory.
type Memory interface {
	// Slice returns n bytes starting at addr. It fails when any part of the
	// range is not readable.
	Slice(addr uintptr, n uint64) ([]byte, error)
}

// Host bundles the collaborators the resolver consumes.
type Host interface {
	Loader
	Introspector
	Memory
}

// memoryPage is the granule memoryReader requests from the host.
const memoryPage = 0x1000

// memoryReader exposes memory starting at base as an io.ReaderAt.
//
// Memory is requested from the host one page at a time and every page is
// requested at most once per reader, so walking a module header costs one
// host lookup per page touched. Reads that cannot be served from whole pages
// fall back to slicing exactly the requested range.
type memoryReader struct {
	mem   Memory
	base  uintptr
	pages map[uintptr][]byte
}

func newMemoryReader(mem Memory, base uintptr) *memoryReader {
	return &memoryReader{mem: mem, base: base, pages: make(map[uintptr][]byte)}
}

func (m *memoryReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("%w: negative offset %d", binfmt.ErrOutOfBounds, off)
	}
	if len(p) == 0 {
		return 0, nil
	}
	addr := m.base + uintptr(off)
	if addr < m.base || addr+uintptr(len(p)) < addr {
		return 0, fmt.Errorf("%w: offset %#x wraps the address space", binfmt.ErrOutOfBounds, off)
	}

	if m.readPages(p, addr) {
		return len(p), nil
	}

	b, err := m.mem.Slice(addr, uint64(len(p)))
	if err != nil {
		return 0, fmt.Errorf("%w: %w", binfmt.ErrOutOfBounds, err)
	}
	n := copy(p, b)
	if n < len(p) {
		return n, io.ErrUnexpectedEOF
	}
	return n, nil
}

// readPages fills p from whole pages. It reports false, leaving p partially
// written, when one of the pages is not available as a whole.
func (m *memoryReader) readPages(p []byte, addr uintptr) bool {
	for n := 0; n < len(p); {
		cur := addr + uintptr(n)
		start := cur &^ (memoryPage - 1)
		page, seen := m.pages[start]
		if !seen {
			b, err := m.mem.Slice(start, memoryPage)
			if err == nil && len(b) == memoryPage {
				page = b
			}
			m.pages[start] = page
		}
		if page == nil {
			return false
		}
		n += copy(p[n:], page[cur-start:])
	}
	return true
}

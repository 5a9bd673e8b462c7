package symfinder

import (
	"fmt"

	"github.com/coral-mesh/symfinder/internal/binfmt"
)

// symbolTable caches the symbols of one module, keyed by its base address.
//
// names only grows and cursor only moves forward. Entries before cursor have
// all been visited and every retained one among them is in names. When a name
// occurs more than once the first occurrence is kept.
type symbolTable struct {
	base   uintptr
	names  map[string]uintptr
	cursor int
	// total is the entry count seen on first open, or -1 before that.
	total int
}

func newSymbolTable(base uintptr) *symbolTable {
	return &symbolTable{
		base:  base,
		names: make(map[string]uintptr),
		total: -1,
	}
}

func (t *symbolTable) lookup(name string) (uintptr, bool) {
	addr, ok := t.names[name]
	return addr, ok
}

// exhausted reports whether every entry has been visited.
func (t *symbolTable) exhausted() bool {
	return t.total >= 0 && t.cursor >= t.total
}

// advance visits entries from the cursor, caching every retained one, and
// stops right after the first entry named name. On a malformed entry the
// cursor is left on it so the cached prefix stays consistent.
func (t *symbolTable) advance(entries binfmt.Table, name string) (uintptr, bool, error) {
	n := entries.Len()
	if t.total < 0 {
		t.total = n
	}
	limit := min(n, t.total)

	for i := t.cursor; i < limit; i++ {
		sym, ok, err := entries.Entry(i)
		if err != nil {
			t.cursor = i
			return 0, false, err
		}
		if !ok {
			continue
		}
		addr, err := t.address(sym)
		if err != nil {
			t.cursor = i
			return 0, false, err
		}
		if _, seen := t.names[sym.Name]; !seen {
			t.names[sym.Name] = addr
		}
		if sym.Name == name {
			t.cursor = i + 1
			return addr, true, nil
		}
	}

	t.cursor = max(t.cursor, limit)
	t.total = t.cursor
	return 0, false, nil
}

func (t *symbolTable) address(sym binfmt.Symbol) (uintptr, error) {
	off := uintptr(sym.Offset)
	addr := t.base + off
	if uint64(off) != sym.Offset || addr < t.base {
		return 0, fmt.Errorf("%w: symbol %q offset %#x overflows base %#x", binfmt.ErrOutOfBounds, sym.Name, sym.Offset, t.base)
	}
	return addr, nil
}

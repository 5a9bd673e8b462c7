package symfinder

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/symfinder/internal/binfmt"
	"github.com/coral-mesh/symfinder/internal/errors"
	"github.com/coral-mesh/symfinder/internal/pattern"
)

// Finder resolves symbols and byte patterns inside loaded modules.
//
// A Finder owns one symbol cache per module base address for its whole
// lifetime. It is not safe for concurrent use: callers sharing a Finder
// between goroutines must serialize every call.
type Finder struct {
	host     Host
	target   Target
	sentinel byte
	wildcard byte
	logger   zerolog.Logger
	metrics  *Metrics
	tables   map[uintptr]*symbolTable
}

// New creates a Finder over host. The target defaults to DefaultTarget.
func New(host Host, opts ...Option) (*Finder, error) {
	if host == nil {
		return nil, fmt.Errorf("symfinder: host is required")
	}

	f := &Finder{
		host:     host,
		target:   DefaultTarget(),
		sentinel: DefaultSentinel,
		wildcard: DefaultWildcard,
		logger:   zerolog.Nop(),
		tables:   make(map[uintptr]*symbolTable),
	}
	for _, opt := range opts {
		opt(f)
	}

	if err := f.target.Validate(); err != nil {
		return nil, fmt.Errorf("symfinder: %w", err)
	}
	return f, nil
}

// Target returns the container configuration the Finder accepts.
func (f *Finder) Target() Target {
	return f.target
}

// Locate validates the module behind h and returns the region treated as the module.
func (f *Finder) Locate(h Handle) (Region, error) {
	_, region, err := f.module("locate", h)
	return region, err
}

// LocateModule opens the named module, locates it and releases it again.
func (f *Finder) LocateModule(module string) (Region, error) {
	var region Region
	err := f.withModule("locate", module, func(h Handle) error {
		var err error
		region, err = f.Locate(h)
		return err
	})
	return region, err
}

// FindSymbol returns the runtime address of the function or data object
// called name in the module behind h.
//
// Entries visited while looking for name are cached, so every entry of a
// module's symbol table is read at most once per Finder.
func (f *Finder) FindSymbol(h Handle, name string) (uintptr, error) {
	const op = "find symbol"

	if name == "" {
		return 0, f.fail(op, KindInvalidRequest, errEmptyName)
	}
	info, region, err := f.module(op, h)
	if err != nil {
		return 0, err
	}

	tbl, ok := f.tables[info.Base]
	if !ok {
		tbl = newSymbolTable(info.Base)
		f.tables[info.Base] = tbl
	}

	if addr, ok := tbl.lookup(name); ok {
		f.metrics.cacheHit()
		f.logger.Debug().Str("symbol", name).Msg("Cache hit for symbol")
		return addr, nil
	}
	f.metrics.cacheMiss()

	if tbl.exhausted() {
		return 0, f.fail(op, KindNotFound, fmt.Errorf("symbol %q not in %s", name, moduleName(info)))
	}

	entries, err := f.openTable(info, region)
	if err != nil {
		return 0, f.fail(op, classify(err), err)
	}
	defer errors.DeferClose(f.logger, entries, "Failed to release symbol table")
	f.metrics.tableLoad(f.target.Format.String())

	if tbl.total < 0 {
		f.logger.Info().
			Str("module", moduleName(info)).
			Str("target", f.target.String()).
			Int("entries", entries.Len()).
			Msg("Loaded symbol table")
	}

	start := tbl.cursor
	addr, found, err := tbl.advance(entries, name)
	f.metrics.scanned(tbl.cursor - start)
	f.logger.Debug().
		Str("symbol", name).
		Int("from", start).
		Int("cursor", tbl.cursor).
		Int("cached", len(tbl.names)).
		Msg("Scanned symbol table")

	if err != nil {
		return 0, f.fail(op, classify(err), err)
	}
	if !found {
		return 0, f.fail(op, KindNotFound, fmt.Errorf("symbol %q not in %s", name, moduleName(info)))
	}
	return addr, nil
}

// FindSymbolInModule opens the named module, looks name up and releases the
// module again.
func (f *Finder) FindSymbolInModule(module, name string) (uintptr, error) {
	var addr uintptr
	err := f.withModule("find symbol", module, func(h Handle) error {
		var err error
		addr, err = f.FindSymbol(h, name)
		return err
	})
	return addr, err
}

// FindPattern returns the address of the lowest offset in the module's region
// where raw matches. Bytes of raw equal to the wildcard match anything.
func (f *Finder) FindPattern(h Handle, raw []byte) (uintptr, error) {
	const op = "find pattern"

	if len(raw) == 0 {
		return 0, f.fail(op, KindInvalidRequest, errZeroLength)
	}
	_, region, err := f.module(op, h)
	if err != nil {
		return 0, err
	}

	p := pattern.FromBytes(raw, f.wildcard)
	if uint64(p.Len()) > region.Size {
		f.metrics.patternScan(false)
		return 0, f.fail(op, KindNotFound, fmt.Errorf("pattern of %d bytes is longer than the %d byte region", p.Len(), region.Size))
	}

	mem, err := f.host.Slice(region.Base, region.Size)
	if err != nil {
		return 0, f.fail(op, KindUnsupportedFormat, fmt.Errorf("%w: %w", binfmt.ErrOutOfBounds, err))
	}

	off := p.Find(mem)
	f.metrics.patternScan(off >= 0)
	if off < 0 {
		return 0, f.fail(op, KindNotFound, fmt.Errorf("pattern %s not found", p))
	}

	f.logger.Debug().Str("pattern", p.String()).Int("offset", off).Msg("Pattern matched")
	return region.Base + uintptr(off), nil
}

// Resolve decodes a request and dispatches it against the module behind h.
// See ParseRequest for the encoding.
func (f *Finder) Resolve(h Handle, data []byte, length int) (uintptr, error) {
	req, err := ParseRequest(data, length, f.sentinel)
	if err != nil {
		return 0, f.fail("resolve", KindInvalidRequest, err)
	}
	return f.dispatch(h, req)
}

// ResolveInModule opens the named module with local visibility, resolves the
// request against it and releases the module whatever the outcome.
func (f *Finder) ResolveInModule(module string, data []byte, length int) (uintptr, error) {
	req, err := ParseRequest(data, length, f.sentinel)
	if err != nil {
		return 0, f.fail("resolve", KindInvalidRequest, err)
	}

	var addr uintptr
	err = f.withModule("resolve", module, func(h Handle) error {
		var err error
		addr, err = f.dispatch(h, req)
		return err
	})
	return addr, err
}

// Close drops every cached symbol table. The Finder stays usable and starts
// over with empty caches.
func (f *Finder) Close() error {
	f.logger.Debug().Int("modules", len(f.tables)).Msg("Dropping symbol caches")
	f.tables = make(map[uintptr]*symbolTable)
	return nil
}

func (f *Finder) dispatch(h Handle, req Request) (uintptr, error) {
	switch req.Kind {
	case RequestName:
		return f.FindSymbol(h, req.Name)
	case RequestPattern:
		return f.FindPattern(h, req.Pattern)
	default:
		return 0, f.fail("resolve", KindInvalidRequest, fmt.Errorf("unknown request kind %s", req.Kind))
	}
}

// module resolves h and computes its region from the mapped header.
func (f *Finder) module(op string, h Handle) (ModuleInfo, Region, error) {
	if h == 0 {
		return ModuleInfo{}, Region{}, f.fail(op, KindInvalidHandle, fmt.Errorf("nil module handle"))
	}
	info, err := f.host.Module(h)
	if err != nil {
		return ModuleInfo{}, Region{}, f.fail(op, KindInvalidHandle, err)
	}

	size, err := binfmt.Locate(f.target, newMemoryReader(f.host, info.Base))
	if err != nil {
		return ModuleInfo{}, Region{}, f.fail(op, classify(err), err)
	}
	if uint64(uintptr(size)) != size || info.Base+uintptr(size) < info.Base {
		return ModuleInfo{}, Region{}, f.fail(op, KindUnsupportedFormat,
			fmt.Errorf("%w: region of %#x bytes at %#x wraps the address space", binfmt.ErrOutOfBounds, size, info.Base))
	}

	return info, Region{Base: info.Base, Size: size}, nil
}

// openTable opens the symbol table of a module. Formats whose static tables
// stay mapped are read from the region; the others from the backing file.
func (f *Finder) openTable(info ModuleInfo, region Region) (binfmt.Table, error) {
	if binfmt.TableFromImage(f.target.Format) {
		return binfmt.ImageTable(f.target, newMemoryReader(f.host, region.Base), region.Size)
	}
	if info.Path == "" {
		return nil, fmt.Errorf("module at %#x has no backing file", info.Base)
	}
	return binfmt.OpenTable(f.target, info.Path)
}

func (f *Finder) withModule(op, module string, fn func(Handle) error) error {
	if module == "" {
		return f.fail(op, KindInvalidHandle, fmt.Errorf("empty module name"))
	}
	h, err := f.host.Open(module)
	if err != nil {
		return f.fail(op, KindInvalidHandle, err)
	}
	defer errors.DeferRelease(f.logger, func() error { return f.host.Close(h) }, "Failed to release module")

	return fn(h)
}

// fail records a failure and wraps it into the single error channel.
func (f *Finder) fail(op string, kind Kind, err error) error {
	f.metrics.failure(kind)
	f.logger.Debug().Err(err).Str("op", op).Stringer("kind", kind).Msg("Resolution failed")
	return &Error{Op: op, Kind: kind, Err: err}
}

func moduleName(info ModuleInfo) string {
	if info.Path != "" {
		return info.Path
	}
	return fmt.Sprintf("module@%#x", info.Base)
}

package host

import (
	"errors"
	"fmt"
	"math"
	"unsafe"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/symfinder/pkg/symfinder"
)

var (
	// ErrNotReadable is returned when part of a memory range is not mapped readable.
	ErrNotReadable = errors.New("memory not readable")
	// ErrUnsupportedPlatform is returned on platforms without a loader binding.
	ErrUnsupportedPlatform = errors.New("platform not supported")
	// ErrUnknownModule is returned when a handle does not belong to any loaded module.
	ErrUnknownModule = errors.New("unknown module handle")
)

const ptrSize = unsafe.Sizeof(uintptr(0))

// Process gives the resolver access to the modules and memory of the current process.
type Process struct {
	logger zerolog.Logger
	sys    *platform
}

var _ symfinder.Host = (*Process)(nil)

// New binds the platform loader.
func New(logger zerolog.Logger) (*Process, error) {
	sys, err := newPlatform()
	if err != nil {
		return nil, fmt.Errorf("failed to bind dynamic loader: %w", err)
	}
	return &Process{
		logger: logger.With().Str("component", "host").Logger(),
		sys:    sys,
	}, nil
}

// Open loads the named module, or takes a new reference if it is already loaded.
func (p *Process) Open(name string) (symfinder.Handle, error) {
	h, err := p.sys.open(name)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", name, err)
	}
	p.logger.Debug().Str("module", name).Uint64("handle", uint64(h)).Msg("Opened module")
	return h, nil
}

// Close drops a reference taken by Open.
func (p *Process) Close(h symfinder.Handle) error {
	if h == 0 {
		return ErrUnknownModule
	}
	if err := p.sys.close(h); err != nil {
		return fmt.Errorf("close handle %#x: %w", uintptr(h), err)
	}
	return nil
}

// Module reports the base address and backing file of the module behind h.
func (p *Process) Module(h symfinder.Handle) (symfinder.ModuleInfo, error) {
	if h == 0 {
		return symfinder.ModuleInfo{}, ErrUnknownModule
	}
	info, err := p.sys.module(h)
	if err != nil {
		return symfinder.ModuleInfo{}, err
	}
	p.logger.Debug().
		Uint64("handle", uint64(h)).
		Str("base", fmt.Sprintf("%#x", info.Base)).
		Str("path", info.Path).
		Msg("Resolved module")
	return info, nil
}

// Slice returns n bytes of process memory at addr without copying.
func (p *Process) Slice(addr uintptr, n uint64) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	if n > math.MaxInt || uint64(uintptr(n)) != n || addr+uintptr(n) < addr {
		return nil, fmt.Errorf("%w: range %#x+%#x wraps the address space", ErrNotReadable, addr, n)
	}
	if err := p.sys.readable(addr, n); err != nil {
		return nil, err
	}
	return view(addr, n), nil
}

func view(addr uintptr, n uint64) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(n))
}

// readPointer loads a pointer-sized word from readable memory.
func readPointer(addr uintptr) uintptr {
	return *(*uintptr)(unsafe.Pointer(addr))
}

// goString copies a NUL-terminated C string.
func goString(p uintptr) string {
	if p == 0 {
		return ""
	}
	n := 0
	for *(*byte)(unsafe.Pointer(p + uintptr(n))) != 0 {
		n++
	}
	return string(view(p, uint64(n)))
}

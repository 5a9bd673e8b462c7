//go:build linux

package host

import (
	"fmt"

	"github.com/ebitengine/purego"
	"github.com/prometheus/procfs"

	"github.com/coral-mesh/symfinder/pkg/symfinder"
)

// libdl moved into libc with glibc 2.34.
var dlLibraries = []string{"libc.so.6", "libdl.so.2", "libc.so"}

// dlInfo mirrors Dl_info.
type dlInfo struct {
	fname uintptr
	fbase uintptr
	sname uintptr
	saddr uintptr
}

type platform struct {
	dladdr func(addr uintptr, info *dlInfo) int32
}

func newPlatform() (*platform, error) {
	var lastErr error
	for _, name := range dlLibraries {
		lib, err := purego.Dlopen(name, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			lastErr = err
			continue
		}
		sym, err := purego.Dlsym(lib, "dladdr")
		if err != nil {
			lastErr = err
			continue
		}
		p := &platform{}
		purego.RegisterFunc(&p.dladdr, sym)
		return p, nil
	}
	return nil, fmt.Errorf("dladdr not found: %w", lastErr)
}

func (p *platform) open(name string) (symfinder.Handle, error) {
	h, err := purego.Dlopen(name, purego.RTLD_NOW|purego.RTLD_LOCAL)
	if err != nil {
		return 0, err
	}
	return symfinder.Handle(h), nil
}

func (p *platform) close(h symfinder.Handle) error {
	return purego.Dlclose(uintptr(h))
}

// module resolves a handle through its link map. Both glibc and musl keep
// the address of the module's dynamic section in the third word of the
// structure a handle points to; dladdr maps that address back to the module.
func (p *platform) module(h symfinder.Handle) (symfinder.ModuleInfo, error) {
	if err := p.readable(uintptr(h), uint64(3*ptrSize)); err != nil {
		return symfinder.ModuleInfo{}, fmt.Errorf("%w: %#x", ErrUnknownModule, uintptr(h))
	}
	dynamic := readPointer(uintptr(h) + 2*ptrSize)
	if dynamic == 0 {
		return symfinder.ModuleInfo{}, fmt.Errorf("%w: %#x has no dynamic section", ErrUnknownModule, uintptr(h))
	}

	var info dlInfo
	if p.dladdr(dynamic, &info) == 0 || info.fbase == 0 {
		return symfinder.ModuleInfo{}, fmt.Errorf("%w: dladdr(%#x) failed", ErrUnknownModule, dynamic)
	}
	return symfinder.ModuleInfo{Base: info.fbase, Path: goString(info.fname)}, nil
}

// readable checks that [addr, addr+n) is covered by contiguous readable mappings.
func (p *platform) readable(addr uintptr, n uint64) error {
	self, err := procfs.Self()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotReadable, err)
	}
	maps, err := self.ProcMaps()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotReadable, err)
	}

	cur, end := uint64(addr), uint64(addr)+n
	for _, m := range maps {
		if uint64(m.EndAddr) <= cur {
			continue
		}
		if uint64(m.StartAddr) > cur || m.Perms == nil || !m.Perms.Read {
			break
		}
		cur = uint64(m.EndAddr)
		if cur >= end {
			return nil
		}
	}
	return fmt.Errorf("%w: %#x+%#x", ErrNotReadable, addr, n)
}

//go:build darwin

package host

import (
	"fmt"
	"os"

	"github.com/ebitengine/purego"
	"golang.org/x/sys/unix"

	"github.com/coral-mesh/symfinder/pkg/symfinder"
)

const (
	libSystem  = "/usr/lib/libSystem.B.dylib"
	rtldNoLoad = 0x10
)

type platform struct {
	imageCount  func() uint32
	imageName   func(i uint32) string
	imageHeader func(i uint32) uintptr
}

func newPlatform() (*platform, error) {
	lib, err := purego.Dlopen(libSystem, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, err
	}
	p := &platform{}
	purego.RegisterLibFunc(&p.imageCount, lib, "_dyld_image_count")
	purego.RegisterLibFunc(&p.imageName, lib, "_dyld_get_image_name")
	purego.RegisterLibFunc(&p.imageHeader, lib, "_dyld_get_image_header")
	return p, nil
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

// module walks the dyld image list and reopens every image without loading
// it, until one yields the same handle.
func (p *platform) module(h symfinder.Handle) (symfinder.ModuleInfo, error) {
	count := p.imageCount()
	for i := uint32(0); i < count; i++ {
		name := p.imageName(i)
		if name == "" {
			continue
		}
		other, err := purego.Dlopen(name, rtldNoLoad)
		if err != nil || other == 0 {
			continue
		}
		_ = purego.Dlclose(other)
		if other != uintptr(h) {
			continue
		}
		base := p.imageHeader(i)
		if base == 0 {
			break
		}
		return symfinder.ModuleInfo{Base: base, Path: name}, nil
	}
	return symfinder.ModuleInfo{}, fmt.Errorf("%w: %#x", ErrUnknownModule, uintptr(h))
}

// readable asks the kernel about the pages covering the range. madvise fails
// with ENOMEM when any of them is unmapped. Page protection is not checked.
func (p *platform) readable(addr uintptr, n uint64) error {
	page := uintptr(os.Getpagesize())
	start := addr &^ (page - 1)
	end := (addr + uintptr(n) + page - 1) &^ (page - 1)
	if end <= start {
		return fmt.Errorf("%w: %#x+%#x", ErrNotReadable, addr, n)
	}
	if err := unix.Madvise(view(start, uint64(end-start)), unix.MADV_NORMAL); err != nil {
		return fmt.Errorf("%w: %#x+%#x: %w", ErrNotReadable, addr, n, err)
	}
	return nil
}

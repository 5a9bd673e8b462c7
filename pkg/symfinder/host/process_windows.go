//go:build windows

package host

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/coral-mesh/symfinder/pkg/symfinder"
)

type platform struct{}

func newPlatform() (*platform, error) {
	return &platform{}, nil
}

// open takes a reference on an already loaded module before falling back to
// loading it. Both are released with FreeLibrary.
func (p *platform) open(name string) (symfinder.Handle, error) {
	wide, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return 0, err
	}
	var h windows.Handle
	if err := windows.GetModuleHandleEx(0, wide, &h); err == nil {
		return symfinder.Handle(h), nil
	}
	h, err = windows.LoadLibraryEx(name, 0, windows.LOAD_LIBRARY_SEARCH_DEFAULT_DIRS)
	if err != nil {
		return 0, err
	}
	return symfinder.Handle(h), nil
}

func (p *platform) close(h symfinder.Handle) error {
	return windows.FreeLibrary(windows.Handle(h))
}

// module relies on an HMODULE being the base address of the image.
func (p *platform) module(h symfinder.Handle) (symfinder.ModuleInfo, error) {
	buf := make([]uint16, windows.MAX_LONG_PATH)
	n, err := windows.GetModuleFileName(windows.Handle(h), &buf[0], uint32(len(buf)))
	if err != nil {
		return symfinder.ModuleInfo{}, fmt.Errorf("%w: %#x: %w", ErrUnknownModule, uintptr(h), err)
	}
	return symfinder.ModuleInfo{Base: uintptr(h), Path: windows.UTF16ToString(buf[:n])}, nil
}

// readProtections are the page protections that allow reads. PAGE_EXECUTE
// alone does not.
const readProtections = windows.PAGE_READONLY | windows.PAGE_READWRITE | windows.PAGE_WRITECOPY |
	windows.PAGE_EXECUTE_READ | windows.PAGE_EXECUTE_READWRITE | windows.PAGE_EXECUTE_WRITECOPY

func readableProtect(protect uint32) bool {
	return protect&(windows.PAGE_NOACCESS|windows.PAGE_GUARD) == 0 && protect&readProtections != 0
}

func (p *platform) readable(addr uintptr, n uint64) error {
	cur, end := addr, addr+uintptr(n)
	for cur < end {
		var mbi windows.MemoryBasicInformation
		if err := windows.VirtualQuery(cur, &mbi, unsafe.Sizeof(mbi)); err != nil {
			return fmt.Errorf("%w: %#x: %w", ErrNotReadable, cur, err)
		}
		if mbi.State != windows.MEM_COMMIT || !readableProtect(mbi.Protect) {
			return fmt.Errorf("%w: %#x", ErrNotReadable, cur)
		}
		next := mbi.BaseAddress + mbi.RegionSize
		if next <= cur {
			return fmt.Errorf("%w: %#x", ErrNotReadable, cur)
		}
		cur = next
	}
	return nil
}

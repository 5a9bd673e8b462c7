package binfmt

import (
	"bytes"
	"debug/macho"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"golang.org/x/exp/mmap"

	"github.com/coral-mesh/symfinder/internal/safe"
)

const (
	machoHeader32Size = 28
	machoHeader64Size = 32
	machoNlist32Size  = 12
	machoNlist64Size  = 16
	machoSubtypeMask  = 0x00ffffff
	machoSubtypeAll   = 3
	machoStabMask     = 0xe0
	machoNoSect       = 0
)

type machoSegment struct {
	addr, memsz, fileoff uint64
}

// machoLayout is the part of the load command list the parsers need.
type machoLayout struct {
	vmsize   uint64
	text     *machoSegment
	linkedit *machoSegment
	symtab   *macho.SymtabCmd
	// Section numbers are 1-based across all segments in command order.
	textSectLo, textSectHi uint32
}

func machoCpu(arch Arch) macho.Cpu {
	if arch.Is64() {
		return macho.CpuAmd64
	}
	return macho.Cpu386
}

func readMachO(arch Arch, r io.ReaderAt) (*machoLayout, error) {
	order := binary.LittleEndian

	magic, err := readUint32(r, order, 0)
	if err != nil {
		return nil, err
	}
	wantMagic, hdrSize, segCmd := uint32(macho.Magic32), uint64(machoHeader32Size), macho.LoadCmdSegment
	if arch.Is64() {
		wantMagic, hdrSize, segCmd = macho.Magic64, machoHeader64Size, macho.LoadCmdSegment64
	}
	if magic != wantMagic {
		return nil, fmt.Errorf("%w: Mach-O magic %#x, want %#x", ErrUnsupportedFormat, magic, wantMagic)
	}

	var fh macho.FileHeader
	if err := readStruct(r, order, 0, &fh); err != nil {
		return nil, err
	}
	if fh.Cpu != machoCpu(arch) {
		return nil, fmt.Errorf("%w: cpu %s, want %s", ErrUnsupportedFormat, fh.Cpu, machoCpu(arch))
	}
	if fh.SubCpu&machoSubtypeMask != machoSubtypeAll {
		return nil, fmt.Errorf("%w: cpu subtype %#x", ErrUnsupportedFormat, fh.SubCpu)
	}
	if fh.Type != macho.TypeDylib {
		return nil, fmt.Errorf("%w: file type %s, want %s", ErrUnsupportedFormat, fh.Type, macho.TypeDylib)
	}

	end, overflow := safe.AddUint64(hdrSize, uint64(fh.Cmdsz))
	if overflow {
		return nil, fmt.Errorf("%w: load commands size %#x", ErrOutOfBounds, fh.Cmdsz)
	}

	l := &machoLayout{}
	var sectBase uint32
	off := hdrSize
	for i := uint32(0); i < fh.Ncmd; i++ {
		cmd, err := readUint32(r, order, off)
		if err != nil {
			return nil, err
		}
		size, err := readUint32(r, order, off+4)
		if err != nil {
			return nil, err
		}
		if size < 8 || !safe.Within(off, uint64(size), end) {
			return nil, fmt.Errorf("%w: load command %d size %d", ErrOutOfBounds, i, size)
		}

		switch macho.LoadCmd(cmd) {
		case segCmd:
			var (
				seg   machoSegment
				name  [16]byte
				nsect uint32
			)
			if arch.Is64() {
				var s macho.Segment64
				if err := readStruct(r, order, off, &s); err != nil {
					return nil, err
				}
				seg, name, nsect = machoSegment{addr: s.Addr, memsz: s.Memsz, fileoff: s.Offset}, s.Name, s.Nsect
			} else {
				var s macho.Segment32
				if err := readStruct(r, order, off, &s); err != nil {
					return nil, err
				}
				seg = machoSegment{addr: uint64(s.Addr), memsz: uint64(s.Memsz), fileoff: uint64(s.Offset)}
				name, nsect = s.Name, s.Nsect
			}
			if l.vmsize, overflow = safe.AddUint64(l.vmsize, seg.memsz); overflow {
				return nil, fmt.Errorf("%w: segment sizes overflow", ErrOutOfBounds)
			}
			switch segName(name) {
			case "__TEXT":
				l.text = &seg
				l.textSectLo, l.textSectHi = sectBase+1, sectBase+nsect
			case "__LINKEDIT":
				l.linkedit = &seg
			}
			sectBase += nsect
		case macho.LoadCmdSegment, macho.LoadCmdSegment64:
			return nil, fmt.Errorf("%w: segment command %#x in %s image", ErrUnsupportedFormat, cmd, arch)
		case macho.LoadCmdSymtab:
			var st macho.SymtabCmd
			if err := readStruct(r, order, off, &st); err != nil {
				return nil, err
			}
			l.symtab = &st
		}
		off += uint64(size)
	}
	return l, nil
}

func segName(b [16]byte) string {
	if i := bytes.IndexByte(b[:], 0); i >= 0 {
		return string(b[:i])
	}
	return string(b[:])
}

func locateMachO(arch Arch, image io.ReaderAt) (uint64, error) {
	l, err := readMachO(arch, image)
	if err != nil {
		return 0, err
	}
	if l.vmsize == 0 {
		return 0, fmt.Errorf("%w: no segments", ErrUnsupportedFormat)
	}
	return l.vmsize, nil
}

type machoTable struct {
	r        io.ReaderAt
	closer   io.Closer
	is64     bool
	symOff   uint64
	entSize  uint64
	count    int
	strOff   uint64
	strEnd   uint64
	textAddr uint64
	sectLo   uint32
	sectHi   uint32
}

// newMachOImageTable reads LC_SYMTAB through __LINKEDIT of a mapped image.
// Table offsets are file offsets, so they are rebased onto the segment's
// position relative to __TEXT.
func newMachOImageTable(arch Arch, r *boundedReader) (*machoTable, error) {
	l, err := readMachO(arch, r)
	if err != nil {
		return nil, err
	}
	if l.text == nil || l.linkedit == nil || l.symtab == nil {
		return nil, fmt.Errorf("%w: __TEXT, __LINKEDIT or LC_SYMTAB not present", ErrMissingSection)
	}
	if l.linkedit.addr < l.text.addr ||
		uint64(l.symtab.Symoff) < l.linkedit.fileoff ||
		uint64(l.symtab.Stroff) < l.linkedit.fileoff {
		return nil, fmt.Errorf("%w: symbol table outside __LINKEDIT", ErrOutOfBounds)
	}
	slide := l.linkedit.addr - l.text.addr
	symOff := slide + (uint64(l.symtab.Symoff) - l.linkedit.fileoff)
	strOff := slide + (uint64(l.symtab.Stroff) - l.linkedit.fileoff)
	return newMachOTable(arch, r, l, symOff, strOff)
}

func openMachOFileTable(arch Arch, path string) (Table, error) {
	m, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}
	r := newBoundedReader(m, uint64(m.Len()))
	t, err := func() (*machoTable, error) {
		l, err := readMachO(arch, r)
		if err != nil {
			return nil, err
		}
		if l.text == nil || l.symtab == nil {
			return nil, fmt.Errorf("%w: __TEXT or LC_SYMTAB not present", ErrMissingSection)
		}
		return newMachOTable(arch, r, l, uint64(l.symtab.Symoff), uint64(l.symtab.Stroff))
	}()
	if err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	t.closer = m
	return t, nil
}

func newMachOTable(arch Arch, r *boundedReader, l *machoLayout, symOff, strOff uint64) (*machoTable, error) {
	entSize := uint64(machoNlist32Size)
	if arch.Is64() {
		entSize = machoNlist64Size
	}
	tableSize, overflow := safe.MulUint64(uint64(l.symtab.Nsyms), entSize)
	if overflow || !safe.Within(symOff, tableSize, r.size) {
		return nil, fmt.Errorf("%w: %d symbols at %#x", ErrOutOfBounds, l.symtab.Nsyms, symOff)
	}
	if !safe.Within(strOff, uint64(l.symtab.Strsize), r.size) {
		return nil, fmt.Errorf("%w: string table at %#x", ErrOutOfBounds, strOff)
	}
	count, err := tableLen(uint64(l.symtab.Nsyms))
	if err != nil {
		return nil, err
	}
	return &machoTable{
		r:        r,
		is64:     arch.Is64(),
		symOff:   symOff,
		entSize:  entSize,
		count:    count,
		strOff:   strOff,
		strEnd:   strOff + uint64(l.symtab.Strsize),
		textAddr: l.text.addr,
		sectLo:   l.textSectLo,
		sectHi:   l.textSectHi,
	}, nil
}

func (t *machoTable) Len() int { return t.count }

func (t *machoTable) Entry(i int) (Symbol, bool, error) {
	if i < 0 || i >= t.count {
		return Symbol{}, false, fmt.Errorf("%w: symbol index %d", ErrOutOfBounds, i)
	}
	off, err := entryOffset(t.symOff, i, t.entSize)
	if err != nil {
		return Symbol{}, false, err
	}

	var (
		strx  uint32
		typ   uint8
		sect  uint8
		value uint64
	)
	if t.is64 {
		var n macho.Nlist64
		if err := readStruct(t.r, binary.LittleEndian, off, &n); err != nil {
			return Symbol{}, false, err
		}
		strx, typ, sect, value = n.Name, n.Type, n.Sect, n.Value
	} else {
		var n macho.Nlist32
		if err := readStruct(t.r, binary.LittleEndian, off, &n); err != nil {
			return Symbol{}, false, err
		}
		strx, typ, sect, value = n.Name, n.Type, n.Sect, uint64(n.Value)
	}

	if typ&machoStabMask != 0 || sect == machoNoSect {
		return Symbol{}, false, nil
	}

	name, err := readCString(t.r, t.strOff+uint64(strx), t.strEnd)
	if err != nil {
		return Symbol{}, false, err
	}
	name = strings.TrimPrefix(name, "_")
	if value < t.textAddr {
		return Symbol{}, false, fmt.Errorf("%w: symbol %q value %#x below __TEXT %#x", ErrOutOfBounds, name, value, t.textAddr)
	}

	kind := SymbolObject
	if s := uint32(sect); s >= t.sectLo && s <= t.sectHi {
		kind = SymbolFunc
	}
	return Symbol{Name: name, Offset: value - t.textAddr, Kind: kind}, true, nil
}

func (t *machoTable) Close() error {
	if t.closer == nil {
		return nil
	}
	return t.closer.Close()
}

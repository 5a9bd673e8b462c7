package binfmt

import (
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/exp/mmap"

	"github.com/coral-mesh/symfinder/internal/safe"
)

const (
	elfSym32Size  = 16
	elfSym64Size  = 24
	elfProg32Size = 32
	elfProg64Size = 56
)

type elfHeader struct {
	order     binary.ByteOrder
	phoff     uint64
	phentsize uint64
	phnum     int
}

func elfClass(arch Arch) elf.Class {
	if arch.Is64() {
		return elf.ELFCLASS64
	}
	return elf.ELFCLASS32
}

func elfMachine(arch Arch) elf.Machine {
	if arch.Is64() {
		return elf.EM_X86_64
	}
	return elf.EM_386
}

// readELFHeader validates the ELF identification and file header at offset 0.
func readELFHeader(arch Arch, r io.ReaderAt) (*elfHeader, error) {
	var ident [elf.EI_NIDENT]byte
	if err := readFull(r, ident[:], 0); err != nil {
		return nil, err
	}
	if string(ident[:len(elf.ELFMAG)]) != elf.ELFMAG {
		return nil, fmt.Errorf("%w: bad ELF magic % x", ErrUnsupportedFormat, ident[:4])
	}
	if class := elf.Class(ident[elf.EI_CLASS]); class != elfClass(arch) {
		return nil, fmt.Errorf("%w: %s, want %s", ErrUnsupportedFormat, class, elfClass(arch))
	}
	if data := elf.Data(ident[elf.EI_DATA]); data != elf.ELFDATA2LSB {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, data)
	}
	if v := elf.Version(ident[elf.EI_VERSION]); v != elf.EV_CURRENT {
		return nil, fmt.Errorf("%w: ELF version %d", ErrUnsupportedFormat, v)
	}

	order := binary.LittleEndian
	var (
		typ, machine, phentsize, phnum uint16
		phoff                          uint64
		minProg                        uint64
	)
	if arch.Is64() {
		var h elf.Header64
		if err := readStruct(r, order, 0, &h); err != nil {
			return nil, err
		}
		typ, machine, phoff, phentsize, phnum = h.Type, h.Machine, h.Phoff, h.Phentsize, h.Phnum
		minProg = elfProg64Size
	} else {
		var h elf.Header32
		if err := readStruct(r, order, 0, &h); err != nil {
			return nil, err
		}
		typ, machine, phoff, phentsize, phnum = h.Type, h.Machine, uint64(h.Phoff), h.Phentsize, h.Phnum
		minProg = elfProg32Size
	}

	if m := elf.Machine(machine); m != elfMachine(arch) {
		return nil, fmt.Errorf("%w: machine %s, want %s", ErrUnsupportedFormat, m, elfMachine(arch))
	}
	if t := elf.Type(typ); t != elf.ET_DYN {
		return nil, fmt.Errorf("%w: object type %s, want %s", ErrUnsupportedFormat, t, elf.ET_DYN)
	}
	if phnum > 0 && uint64(phentsize) < minProg {
		return nil, fmt.Errorf("%w: program header entry size %d", ErrUnsupportedFormat, phentsize)
	}

	return &elfHeader{order: order, phoff: phoff, phentsize: uint64(phentsize), phnum: int(phnum)}, nil
}

// progAt decodes program header i as its 64-bit form.
func (h *elfHeader) progAt(r io.ReaderAt, arch Arch, i int) (elf.Prog64, error) {
	off, err := entryOffset(h.phoff, i, h.phentsize)
	if err != nil {
		return elf.Prog64{}, err
	}
	if arch.Is64() {
		var p elf.Prog64
		err := readStruct(r, h.order, off, &p)
		return p, err
	}
	var p elf.Prog32
	if err := readStruct(r, h.order, off, &p); err != nil {
		return elf.Prog64{}, err
	}
	return elf.Prog64{
		Type:   p.Type,
		Flags:  p.Flags,
		Off:    uint64(p.Off),
		Vaddr:  uint64(p.Vaddr),
		Filesz: uint64(p.Filesz),
		Memsz:  uint64(p.Memsz),
		Align:  uint64(p.Align),
	}, nil
}

func locateELF(arch Arch, image io.ReaderAt) (uint64, error) {
	h, err := readELFHeader(arch, image)
	if err != nil {
		return 0, err
	}
	for i := 0; i < h.phnum; i++ {
		p, err := h.progAt(image, arch, i)
		if err != nil {
			return 0, err
		}
		if elf.ProgType(p.Type) != elf.PT_LOAD || elf.ProgFlag(p.Flags) != elf.PF_R|elf.PF_X {
			continue
		}
		size, overflow := safe.AlignUp(p.Filesz, pageSize)
		if overflow {
			return 0, fmt.Errorf("%w: segment size %#x", ErrOutOfBounds, p.Filesz)
		}
		return size, nil
	}
	return 0, fmt.Errorf("%w: no PT_LOAD segment with flags R+X", ErrUnsupportedFormat)
}

type elfTable struct {
	r       io.ReaderAt
	closer  io.Closer
	order   binary.ByteOrder
	is64    bool
	symOff  uint64
	entSize uint64
	count   int
	strOff  uint64
	strEnd  uint64
	bias    uint64
}

func openELFTable(arch Arch, path string) (Table, error) {
	m, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}
	t, err := newELFTable(arch, m, uint64(m.Len()))
	if err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	t.closer = m
	return t, nil
}

// newELFTable opens the .symtab/.strtab pair of an ELF file of the given size.
func newELFTable(arch Arch, ra io.ReaderAt, size uint64) (*elfTable, error) {
	r := newBoundedReader(ra, size)
	if _, err := readELFHeader(arch, r); err != nil {
		return nil, err
	}
	f, err := elf.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
	}

	symtab := f.Section(".symtab")
	strtab := f.Section(".strtab")
	if symtab == nil || strtab == nil {
		return nil, fmt.Errorf("%w: .symtab or .strtab not present", ErrMissingSection)
	}
	if symtab.Type == elf.SHT_NOBITS || strtab.Type == elf.SHT_NOBITS {
		return nil, fmt.Errorf("%w: symbol tables carry no file data", ErrMissingSection)
	}
	if !safe.Within(symtab.Offset, symtab.Size, size) || !safe.Within(strtab.Offset, strtab.Size, size) {
		return nil, fmt.Errorf("%w: symbol tables extend past end of file", ErrOutOfBounds)
	}

	entSize := uint64(elfSym32Size)
	if arch.Is64() {
		entSize = elfSym64Size
	}
	count, err := tableLen(symtab.Size / entSize)
	if err != nil {
		return nil, err
	}

	var bias uint64
	for _, p := range f.Progs {
		if p.Type == elf.PT_LOAD {
			bias = p.Vaddr &^ (pageSize - 1)
			break
		}
	}

	return &elfTable{
		r:       r,
		order:   f.ByteOrder,
		is64:    arch.Is64(),
		symOff:  symtab.Offset,
		entSize: entSize,
		count:   count,
		strOff:  strtab.Offset,
		strEnd:  strtab.Offset + strtab.Size,
		bias:    bias,
	}, nil
}

func (t *elfTable) Len() int { return t.count }

func (t *elfTable) Entry(i int) (Symbol, bool, error) {
	if i < 0 || i >= t.count {
		return Symbol{}, false, fmt.Errorf("%w: symbol index %d", ErrOutOfBounds, i)
	}
	off, err := entryOffset(t.symOff, i, t.entSize)
	if err != nil {
		return Symbol{}, false, err
	}

	var (
		nameOff uint32
		info    uint8
		shndx   uint16
		value   uint64
	)
	if t.is64 {
		var s elf.Sym64
		if err := readStruct(t.r, t.order, off, &s); err != nil {
			return Symbol{}, false, err
		}
		nameOff, info, shndx, value = s.Name, s.Info, s.Shndx, s.Value
	} else {
		var s elf.Sym32
		if err := readStruct(t.r, t.order, off, &s); err != nil {
			return Symbol{}, false, err
		}
		nameOff, info, shndx, value = s.Name, s.Info, s.Shndx, uint64(s.Value)
	}

	if elf.SectionIndex(shndx) == elf.SHN_UNDEF {
		return Symbol{}, false, nil
	}
	var kind SymbolKind
	switch elf.ST_TYPE(info) {
	case elf.STT_FUNC:
		kind = SymbolFunc
	case elf.STT_OBJECT:
		kind = SymbolObject
	default:
		return Symbol{}, false, nil
	}

	name, err := readCString(t.r, t.strOff+uint64(nameOff), t.strEnd)
	if err != nil {
		return Symbol{}, false, err
	}
	if value < t.bias {
		return Symbol{}, false, fmt.Errorf("%w: symbol %q value %#x below load bias %#x", ErrOutOfBounds, name, value, t.bias)
	}
	return Symbol{Name: name, Offset: value - t.bias, Kind: kind}, true, nil
}

func (t *elfTable) Close() error {
	if t.closer == nil {
		return nil
	}
	return t.closer.Close()
}

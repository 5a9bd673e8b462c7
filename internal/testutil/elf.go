package testutil

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
)

// ELF layout constants of images produced by BuildELF.
const (
	// ELFMachineOffset is the file offset of e_machine.
	ELFMachineOffset = 18
	// ELFClassOffset is the file offset of EI_CLASS.
	ELFClassOffset = elf.EI_CLASS
	// ELFSecondExecSize is the file size of the second R+X segment, which Locate must ignore.
	ELFSecondExecSize = 0x10000
)

// ELFSymbol describes one symbol table entry of a synthetic ELF image.
type ELFSymbol struct {
	Name  string
	Value uint64
	Type  elf.SymType
	Shndx elf.SectionIndex
}

// Func returns a defined function symbol.
func Func(name string, value uint64) ELFSymbol {
	return ELFSymbol{Name: name, Value: value, Type: elf.STT_FUNC, Shndx: 1}
}

// Object returns a defined data symbol.
func Object(name string, value uint64) ELFSymbol {
	return ELFSymbol{Name: name, Value: value, Type: elf.STT_OBJECT, Shndx: 1}
}

// ELFSpec describes a synthetic ELF shared object.
type ELFSpec struct {
	Is64 bool
	// TextSize is the file size of the first PT_LOAD segment with flags R+X.
	TextSize uint64
	// LoadVaddr is the virtual address of the first PT_LOAD segment.
	LoadVaddr  uint64
	Symbols    []ELFSymbol
	OmitSymtab bool
}

// BuildELF lays out a little-endian ET_DYN image with three PT_LOAD segments
// (R, R+X of TextSize, R+X of ELFSecondExecSize) and the sections
// .text, .symtab, .strtab and .shstrtab. The result is padded to at least
// TextSize rounded up to the page size so it can double as mapped memory.
func BuildELF(spec ELFSpec) []byte {
	order := binary.LittleEndian
	ehsize, phentsize, shentsize, symentsize := 52, 32, 40, 16
	machine := elf.EM_386
	class := elf.ELFCLASS32
	if spec.Is64 {
		ehsize, phentsize, shentsize, symentsize = 64, 56, 64, 24
		machine = elf.EM_X86_64
		class = elf.ELFCLASS64
	}

	var strtab bytes.Buffer
	strtab.WriteByte(0)
	var symtab bytes.Buffer
	symtab.Write(make([]byte, symentsize))
	for _, s := range spec.Symbols {
		nameOff := uint32(strtab.Len())
		strtab.WriteString(s.Name)
		strtab.WriteByte(0)
		info := elf.ST_INFO(elf.STB_GLOBAL, s.Type)
		if spec.Is64 {
			mustWrite(&symtab, order, elf.Sym64{Name: nameOff, Info: info, Shndx: uint16(s.Shndx), Value: s.Value})
		} else {
			mustWrite(&symtab, order, elf.Sym32{Name: nameOff, Info: info, Shndx: uint16(s.Shndx), Value: uint32(s.Value)})
		}
	}

	shstrtab := []byte("\x00.text\x00.symtab\x00.strtab\x00.shstrtab\x00")
	const (
		nameText     = 1
		nameSymtab   = 7
		nameStrtab   = 15
		nameShstrtab = 23
	)
	symtabName := uint32(nameSymtab)
	if spec.OmitSymtab {
		symtabName = 0
	}

	type prog struct {
		flags  elf.ProgFlag
		vaddr  uint64
		filesz uint64
	}
	progs := []prog{
		{flags: elf.PF_R, vaddr: spec.LoadVaddr, filesz: 0x100},
		{flags: elf.PF_R | elf.PF_X, vaddr: spec.LoadVaddr + 0x1000, filesz: spec.TextSize},
		{flags: elf.PF_R | elf.PF_X, vaddr: spec.LoadVaddr + 0x100000, filesz: ELFSecondExecSize},
	}

	phoff := ehsize
	symOff := phoff + len(progs)*phentsize
	strOff := symOff + symtab.Len()
	shstrOff := strOff + strtab.Len()
	shoff := alignInt(shstrOff+len(shstrtab), 8)

	type section struct {
		name, typ      uint32
		flags          uint64
		off, size      int
		link, info     uint32
		align, entsize uint64
	}
	sections := []section{
		{},
		{name: nameText, typ: uint32(elf.SHT_PROGBITS), flags: uint64(elf.SHF_ALLOC | elf.SHF_EXECINSTR), align: 16},
		{name: symtabName, typ: uint32(elf.SHT_SYMTAB), off: symOff, size: symtab.Len(), link: 3, info: 1, align: 4, entsize: uint64(symentsize)},
		{name: nameStrtab, typ: uint32(elf.SHT_STRTAB), off: strOff, size: strtab.Len(), align: 1},
		{name: nameShstrtab, typ: uint32(elf.SHT_STRTAB), off: shstrOff, size: len(shstrtab), align: 1},
	}

	var buf bytes.Buffer
	var ident [elf.EI_NIDENT]byte
	copy(ident[:], elf.ELFMAG)
	ident[elf.EI_CLASS] = byte(class)
	ident[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	ident[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	if spec.Is64 {
		mustWrite(&buf, order, elf.Header64{
			Ident: ident, Type: uint16(elf.ET_DYN), Machine: uint16(machine), Version: uint32(elf.EV_CURRENT),
			Phoff: uint64(phoff), Shoff: uint64(shoff), Ehsize: uint16(ehsize),
			Phentsize: uint16(phentsize), Phnum: uint16(len(progs)),
			Shentsize: uint16(shentsize), Shnum: uint16(len(sections)), Shstrndx: 4,
		})
		for _, p := range progs {
			mustWrite(&buf, order, elf.Prog64{
				Type: uint32(elf.PT_LOAD), Flags: uint32(p.flags), Vaddr: p.vaddr, Paddr: p.vaddr,
				Filesz: p.filesz, Memsz: p.filesz, Align: 0x1000,
			})
		}
	} else {
		mustWrite(&buf, order, elf.Header32{
			Ident: ident, Type: uint16(elf.ET_DYN), Machine: uint16(machine), Version: uint32(elf.EV_CURRENT),
			Phoff: uint32(phoff), Shoff: uint32(shoff), Ehsize: uint16(ehsize),
			Phentsize: uint16(phentsize), Phnum: uint16(len(progs)),
			Shentsize: uint16(shentsize), Shnum: uint16(len(sections)), Shstrndx: 4,
		})
		for _, p := range progs {
			mustWrite(&buf, order, elf.Prog32{
				Type: uint32(elf.PT_LOAD), Flags: uint32(p.flags), Vaddr: uint32(p.vaddr), Paddr: uint32(p.vaddr),
				Filesz: uint32(p.filesz), Memsz: uint32(p.filesz), Align: 0x1000,
			})
		}
	}

	buf.Write(symtab.Bytes())
	buf.Write(strtab.Bytes())
	buf.Write(shstrtab)
	buf.Write(make([]byte, shoff-buf.Len()))

	for _, s := range sections {
		if spec.Is64 {
			mustWrite(&buf, order, elf.Section64{
				Name: s.name, Type: s.typ, Flags: s.flags, Off: uint64(s.off), Size: uint64(s.size),
				Link: s.link, Info: s.info, Addralign: s.align, Entsize: s.entsize,
			})
		} else {
			mustWrite(&buf, order, elf.Section32{
				Name: s.name, Type: s.typ, Flags: uint32(s.flags), Off: uint32(s.off), Size: uint32(s.size),
				Link: s.link, Info: s.info, Addralign: uint32(s.align), Entsize: uint32(s.entsize),
			})
		}
	}

	out := buf.Bytes()
	if region := alignInt(int(spec.TextSize), 0x1000); len(out) < region {
		out = append(out, make([]byte, region-len(out))...)
	}
	return out
}

func mustWrite(buf *bytes.Buffer, order binary.ByteOrder, v any) {
	if err := binary.Write(buf, order, v); err != nil {
		panic(err)
	}
}

func alignInt(v, align int) int {
	return (v + align - 1) &^ (align - 1)
}

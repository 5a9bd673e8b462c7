package testutil

import (
	"bytes"
	"debug/macho"
	"encoding/binary"
)

// Segment layout of images produced by BuildMachO. __LINKEDIT sits at a
// different offset in the file than in memory.
const (
	MachOTextSize        = 0x1000
	MachODataAddr        = 0x1000
	MachODataSize        = 0x2000
	MachOLinkeditAddr    = 0x3000
	MachOLinkeditFileOff = 0x2000
	MachOLinkeditSize    = 0x1000
	// MachOImageSize is the sum of all segment vmsizes.
	MachOImageSize = MachOTextSize + MachODataSize + MachOLinkeditSize
	// MachOTextSect and MachODataSect are the section numbers of __text and __data.
	MachOTextSect = 1
	MachODataSect = 2

	machoSubtypeAll = 3
)

// MachOSymbol describes one nlist entry. Name is stored as given, including
// any leading underscore.
type MachOSymbol struct {
	Name  string
	Value uint64
	Type  uint8
	Sect  uint8
}

// MachOSpec describes a synthetic dylib.
type MachOSpec struct {
	Is64       bool
	Symbols    []MachOSymbol
	OmitSymtab bool
	// SubCpu overrides the cpu subtype when nonzero.
	SubCpu uint32
}

type machoSeg struct {
	name                  string
	addr, memsz, off, len uint64
	sect                  string
}

// BuildMachO returns the same dylib twice: as laid out on disk and as mapped in
// memory (MachOImageSize bytes).
func BuildMachO(spec MachOSpec) (file, image []byte) {
	order := binary.LittleEndian

	nlistSize := 12
	if spec.Is64 {
		nlistSize = 16
	}
	var strtab bytes.Buffer
	strtab.WriteByte(0)
	var syms bytes.Buffer
	for _, s := range spec.Symbols {
		strx := uint32(strtab.Len())
		strtab.WriteString(s.Name)
		strtab.WriteByte(0)
		if spec.Is64 {
			mustWrite(&syms, order, macho.Nlist64{Name: strx, Type: s.Type, Sect: s.Sect, Value: s.Value})
		} else {
			mustWrite(&syms, order, macho.Nlist32{Name: strx, Type: s.Type, Sect: s.Sect, Value: uint32(s.Value)})
		}
	}
	symoff := uint32(MachOLinkeditFileOff)
	stroff := symoff + uint32(len(spec.Symbols)*nlistSize)
	var linkedit bytes.Buffer
	linkedit.Write(syms.Bytes())
	linkedit.Write(strtab.Bytes())
	if linkedit.Len() > MachOLinkeditSize {
		panic("testutil: symbol table does not fit __LINKEDIT")
	}

	segs := []machoSeg{
		{name: "__TEXT", addr: 0, memsz: MachOTextSize, off: 0, len: MachOTextSize, sect: "__text"},
		{name: "__DATA", addr: MachODataAddr, memsz: MachODataSize, off: MachOTextSize, len: MachOTextSize, sect: "__data"},
		{name: "__LINKEDIT", addr: MachOLinkeditAddr, memsz: MachOLinkeditSize, off: MachOLinkeditFileOff, len: MachOLinkeditSize},
	}

	var cmds bytes.Buffer
	ncmd := uint32(0)
	for _, s := range segs {
		nsect := uint32(0)
		if s.sect != "" {
			nsect = 1
		}
		if spec.Is64 {
			mustWrite(&cmds, order, macho.Segment64{
				Cmd: macho.LoadCmdSegment64, Len: 72 + 80*nsect, Name: name16(s.name),
				Addr: s.addr, Memsz: s.memsz, Offset: s.off, Filesz: s.len,
				Maxprot: 7, Prot: 5, Nsect: nsect,
			})
			if nsect > 0 {
				mustWrite(&cmds, order, macho.Section64{
					Name: name16(s.sect), Seg: name16(s.name), Addr: s.addr, Size: 0x100, Offset: uint32(s.off),
				})
			}
		} else {
			mustWrite(&cmds, order, macho.Segment32{
				Cmd: macho.LoadCmdSegment, Len: 56 + 68*nsect, Name: name16(s.name),
				Addr: uint32(s.addr), Memsz: uint32(s.memsz), Offset: uint32(s.off), Filesz: uint32(s.len),
				Maxprot: 7, Prot: 5, Nsect: nsect,
			})
			if nsect > 0 {
				mustWrite(&cmds, order, macho.Section32{
					Name: name16(s.sect), Seg: name16(s.name), Addr: uint32(s.addr), Size: 0x100, Offset: uint32(s.off),
				})
			}
		}
		ncmd++
	}
	if !spec.OmitSymtab {
		mustWrite(&cmds, order, macho.SymtabCmd{
			Cmd: macho.LoadCmdSymtab, Len: 24,
			Symoff: symoff, Nsyms: uint32(len(spec.Symbols)),
			Stroff: stroff, Strsize: uint32(strtab.Len()),
		})
		ncmd++
	}

	magic, cpu := macho.Magic32, macho.Cpu386
	if spec.Is64 {
		magic, cpu = macho.Magic64, macho.CpuAmd64
	}
	subCpu := uint32(machoSubtypeAll)
	if spec.SubCpu != 0 {
		subCpu = spec.SubCpu
	}
	var hdr bytes.Buffer
	mustWrite(&hdr, order, macho.FileHeader{
		Magic: magic, Cpu: cpu, SubCpu: subCpu, Type: macho.TypeDylib,
		Ncmd: ncmd, Cmdsz: uint32(cmds.Len()),
	})
	if spec.Is64 {
		mustWrite(&hdr, order, uint32(0))
	}
	hdr.Write(cmds.Bytes())
	if hdr.Len() > MachOTextSize {
		panic("testutil: load commands do not fit __TEXT")
	}

	file = make([]byte, MachOLinkeditFileOff+MachOLinkeditSize)
	copy(file, hdr.Bytes())
	copy(file[MachOLinkeditFileOff:], linkedit.Bytes())

	image = make([]byte, MachOImageSize)
	copy(image, hdr.Bytes())
	copy(image[MachOLinkeditAddr:], linkedit.Bytes())
	return file, image
}

func name16(s string) [16]byte {
	var b [16]byte
	copy(b[:], s)
	return b
}

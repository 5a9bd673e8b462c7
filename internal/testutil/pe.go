package testutil

import (
	"bytes"
	"debug/pe"
	"encoding/binary"
)

// Section RVAs of images produced by BuildPE.
const (
	// PETextRVA is the start of the code section.
	PETextRVA = 0x1000
	// PEDataRVA is the start of the read-only data section holding the export directory.
	PEDataRVA = 0x2000
	// PEObjectRVA lies in the data section past the export directory.
	PEObjectRVA = 0x2800

	peLfanew     = 0x40
	peTextRaw    = 0x400
	peDataRaw    = 0x600
	peRawAlign   = 0x200
	peSectionLen = 0x1000
)

type exportDirectory struct {
	Characteristics       uint32
	TimeDateStamp         uint32
	MajorVersion          uint16
	MinorVersion          uint16
	Name                  uint32
	Base                  uint32
	NumberOfFunctions     uint32
	NumberOfNames         uint32
	AddressOfFunctions    uint32
	AddressOfNames        uint32
	AddressOfNameOrdinals uint32
}

// PEExport describes one named export of a synthetic DLL.
type PEExport struct {
	Name string
	RVA  uint32
	// Forward makes the export a forwarder to the named "dll.symbol".
	Forward string
}

// PESpec describes a synthetic DLL.
type PESpec struct {
	Is64 bool
	// SizeOfImage defaults to 0x3000.
	SizeOfImage uint32
	Exports     []PEExport
	NoExportDir bool
	NotDLL      bool
}

// BuildPE lays out a DLL with a code section at PETextRVA and a data section at
// PEDataRVA holding the export directory. Export i has ordinal index i.
func BuildPE(spec PESpec) []byte {
	order := binary.LittleEndian
	n := len(spec.Exports)

	// Export directory contents, relative to PEDataRVA.
	const dirSize = 40
	funcsOff := dirSize
	namesOff := funcsOff + 4*n
	ordsOff := namesOff + 4*n
	strOff := ordsOff + 2*n

	var strs bytes.Buffer
	dllNameOff := strOff + strs.Len()
	strs.WriteString("synthetic.dll\x00")
	nameOffs := make([]int, n)
	for i, e := range spec.Exports {
		nameOffs[i] = strOff + strs.Len()
		strs.WriteString(e.Name)
		strs.WriteByte(0)
	}
	funcRVAs := make([]uint32, n)
	for i, e := range spec.Exports {
		funcRVAs[i] = e.RVA
		if e.Forward != "" {
			funcRVAs[i] = PEDataRVA + uint32(strOff+strs.Len())
			strs.WriteString(e.Forward)
			strs.WriteByte(0)
		}
	}
	exportSize := strOff + strs.Len()
	if PEDataRVA+exportSize > PEObjectRVA {
		panic("testutil: export directory overlaps PEObjectRVA")
	}

	var edata bytes.Buffer
	mustWrite(&edata, order, exportDirectory{
		Name:                  PEDataRVA + uint32(dllNameOff),
		Base:                  1,
		NumberOfFunctions:     uint32(n),
		NumberOfNames:         uint32(n),
		AddressOfFunctions:    PEDataRVA + uint32(funcsOff),
		AddressOfNames:        PEDataRVA + uint32(namesOff),
		AddressOfNameOrdinals: PEDataRVA + uint32(ordsOff),
	})
	for _, rva := range funcRVAs {
		mustWrite(&edata, order, rva)
	}
	for _, off := range nameOffs {
		mustWrite(&edata, order, PEDataRVA+uint32(off))
	}
	for i := range spec.Exports {
		mustWrite(&edata, order, uint16(i))
	}
	edata.Write(strs.Bytes())
	dataRawSize := alignInt(edata.Len(), peRawAlign)

	sizeOfImage := spec.SizeOfImage
	if sizeOfImage == 0 {
		sizeOfImage = 0x3000
	}
	var exportDir pe.DataDirectory
	if !spec.NoExportDir {
		exportDir = pe.DataDirectory{VirtualAddress: PEDataRVA, Size: uint32(exportSize)}
	}

	machine := uint16(pe.IMAGE_FILE_MACHINE_I386)
	characteristics := uint16(pe.IMAGE_FILE_EXECUTABLE_IMAGE | pe.IMAGE_FILE_32BIT_MACHINE | pe.IMAGE_FILE_DLL)
	optSize := 224
	if spec.Is64 {
		machine = pe.IMAGE_FILE_MACHINE_AMD64
		characteristics = uint16(pe.IMAGE_FILE_EXECUTABLE_IMAGE | pe.IMAGE_FILE_LARGE_ADDRESS_AWARE | pe.IMAGE_FILE_DLL)
		optSize = 240
	}
	if spec.NotDLL {
		characteristics &^= pe.IMAGE_FILE_DLL
	}

	var buf bytes.Buffer
	buf.WriteString("MZ")
	buf.Write(make([]byte, 0x3c-2))
	mustWrite(&buf, order, uint32(peLfanew))
	buf.WriteString("PE\x00\x00")
	mustWrite(&buf, order, pe.FileHeader{
		Machine:              machine,
		NumberOfSections:     2,
		SizeOfOptionalHeader: uint16(optSize),
		Characteristics:      characteristics,
	})

	var dirs [16]pe.DataDirectory
	dirs[pe.IMAGE_DIRECTORY_ENTRY_EXPORT] = exportDir
	if spec.Is64 {
		mustWrite(&buf, order, pe.OptionalHeader64{
			Magic:               0x20b,
			SizeOfCode:          peRawAlign,
			BaseOfCode:          PETextRVA,
			ImageBase:           0x180000000,
			SectionAlignment:    peSectionLen,
			FileAlignment:       peRawAlign,
			SizeOfImage:         sizeOfImage,
			SizeOfHeaders:       peTextRaw,
			Subsystem:           pe.IMAGE_SUBSYSTEM_WINDOWS_GUI,
			NumberOfRvaAndSizes: 16,
			DataDirectory:       dirs,
		})
	} else {
		mustWrite(&buf, order, pe.OptionalHeader32{
			Magic:               0x10b,
			SizeOfCode:          peRawAlign,
			BaseOfCode:          PETextRVA,
			BaseOfData:          PEDataRVA,
			ImageBase:           0x10000000,
			SectionAlignment:    peSectionLen,
			FileAlignment:       peRawAlign,
			SizeOfImage:         sizeOfImage,
			SizeOfHeaders:       peTextRaw,
			Subsystem:           pe.IMAGE_SUBSYSTEM_WINDOWS_GUI,
			NumberOfRvaAndSizes: 16,
			DataDirectory:       dirs,
		})
	}

	mustWrite(&buf, order, pe.SectionHeader32{
		Name:             [8]uint8{'.', 't', 'e', 'x', 't'},
		VirtualSize:      peSectionLen,
		VirtualAddress:   PETextRVA,
		SizeOfRawData:    peRawAlign,
		PointerToRawData: peTextRaw,
		Characteristics:  pe.IMAGE_SCN_CNT_CODE | pe.IMAGE_SCN_MEM_EXECUTE | pe.IMAGE_SCN_MEM_READ,
	})
	mustWrite(&buf, order, pe.SectionHeader32{
		Name:             [8]uint8{'.', 'r', 'd', 'a', 't', 'a'},
		VirtualSize:      peSectionLen,
		VirtualAddress:   PEDataRVA,
		SizeOfRawData:    uint32(dataRawSize),
		PointerToRawData: peDataRaw,
		Characteristics:  pe.IMAGE_SCN_CNT_INITIALIZED_DATA | pe.IMAGE_SCN_MEM_READ,
	})

	buf.Write(make([]byte, peTextRaw-buf.Len()))
	text := make([]byte, peRawAlign)
	text[0] = 0xc3
	buf.Write(text)
	buf.Write(edata.Bytes())
	buf.Write(make([]byte, peDataRaw+dataRawSize-buf.Len()))
	return buf.Bytes()
}

// PEImage returns the file bytes padded to SizeOfImage for use as mapped memory.
func PEImage(spec PESpec, file []byte) []byte {
	size := int(spec.SizeOfImage)
	if size == 0 {
		size = 0x3000
	}
	if len(file) >= size {
		return file
	}
	return append(append([]byte(nil), file...), make([]byte, size-len(file))...)
}

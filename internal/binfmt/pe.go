package binfmt

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/Binject/debug/pe"
	"golang.org/x/exp/mmap"

	"github.com/coral-mesh/symfinder/internal/safe"
)

const (
	peMachineI386  = 0x14c
	peMachineAMD64 = 0x8664
	peFileDLL      = 0x2000
	peMagic32      = 0x10b
	peMagic64      = 0x20b
	peScnCntCode   = 0x00000020
	peLfanewOffset = 0x3c
	peFileHdrSize  = 20
)

type peHeaders struct {
	file        pe.FileHeader
	sizeOfImage uint64
	exports     pe.DataDirectory
}

func peMachine(arch Arch) uint16 {
	if arch.Is64() {
		return peMachineAMD64
	}
	return peMachineI386
}

// readPEHeaders validates the DOS stub, NT signature, COFF file header and
// optional header at the start of r. The layout is identical on disk and in
// a mapped image.
func readPEHeaders(arch Arch, r io.ReaderAt) (*peHeaders, error) {
	order := binary.LittleEndian

	var mz [2]byte
	if err := readFull(r, mz[:], 0); err != nil {
		return nil, err
	}
	if mz != [2]byte{'M', 'Z'} {
		return nil, fmt.Errorf("%w: bad DOS magic % x", ErrUnsupportedFormat, mz[:])
	}
	lfanew, err := readUint32(r, order, peLfanewOffset)
	if err != nil {
		return nil, err
	}

	var sig [4]byte
	if err := readFull(r, sig[:], uint64(lfanew)); err != nil {
		return nil, err
	}
	if sig != [4]byte{'P', 'E', 0, 0} {
		return nil, fmt.Errorf("%w: bad NT signature % x", ErrUnsupportedFormat, sig[:])
	}

	h := &peHeaders{}
	if err := readStruct(r, order, uint64(lfanew)+4, &h.file); err != nil {
		return nil, err
	}
	if h.file.Machine != peMachine(arch) {
		return nil, fmt.Errorf("%w: machine %#x, want %#x", ErrUnsupportedFormat, h.file.Machine, peMachine(arch))
	}
	if h.file.Characteristics&peFileDLL == 0 {
		return nil, fmt.Errorf("%w: image is not a DLL", ErrUnsupportedFormat)
	}

	optOff := uint64(lfanew) + 4 + peFileHdrSize
	magic, err := readUint16(r, order, optOff)
	if err != nil {
		return nil, err
	}

	if arch.Is64() {
		if magic != peMagic64 {
			return nil, fmt.Errorf("%w: optional header magic %#x, want %#x", ErrUnsupportedFormat, magic, peMagic64)
		}
		var oh pe.OptionalHeader64
		if int(h.file.SizeOfOptionalHeader) < binary.Size(&oh) {
			return nil, fmt.Errorf("%w: optional header size %d", ErrUnsupportedFormat, h.file.SizeOfOptionalHeader)
		}
		if err := readStruct(r, order, optOff, &oh); err != nil {
			return nil, err
		}
		h.sizeOfImage = uint64(oh.SizeOfImage)
		if oh.NumberOfRvaAndSizes > 0 {
			h.exports = oh.DataDirectory[0]
		}
		return h, nil
	}

	if magic != peMagic32 {
		return nil, fmt.Errorf("%w: optional header magic %#x, want %#x", ErrUnsupportedFormat, magic, peMagic32)
	}
	var oh pe.OptionalHeader32
	if int(h.file.SizeOfOptionalHeader) < binary.Size(&oh) {
		return nil, fmt.Errorf("%w: optional header size %d", ErrUnsupportedFormat, h.file.SizeOfOptionalHeader)
	}
	if err := readStruct(r, order, optOff, &oh); err != nil {
		return nil, err
	}
	h.sizeOfImage = uint64(oh.SizeOfImage)
	if oh.NumberOfRvaAndSizes > 0 {
		h.exports = oh.DataDirectory[0]
	}
	return h, nil
}

func locatePE(arch Arch, image io.ReaderAt) (uint64, error) {
	h, err := readPEHeaders(arch, image)
	if err != nil {
		return 0, err
	}
	if h.sizeOfImage == 0 {
		return 0, fmt.Errorf("%w: SizeOfImage is zero", ErrUnsupportedFormat)
	}
	return h.sizeOfImage, nil
}

// peExportDirectory is IMAGE_EXPORT_DIRECTORY.
type peExportDirectory struct {
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

type peSection struct {
	va, vsize uint32
	off, size uint32
	code      bool
}

// peTable walks the named exports of a DLL file. Forwarded exports have no
// address in the module and are reported as undefined.
type peTable struct {
	r           io.ReaderAt
	closer      io.Closer
	size        uint64
	sections    []peSection
	dir         peExportDirectory
	exportStart uint32
	exportEnd   uint64
	count       int
}

func openPETable(arch Arch, path string) (Table, error) {
	m, err := mmap.Open(path)
	if err != nil {
		return nil, err
	}
	t, err := newPETable(arch, m, uint64(m.Len()))
	if err != nil {
		_ = m.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	t.closer = m
	return t, nil
}

func newPETable(arch Arch, ra io.ReaderAt, size uint64) (*peTable, error) {
	r := newBoundedReader(ra, size)
	h, err := readPEHeaders(arch, r)
	if err != nil {
		return nil, err
	}
	f, err := pe.NewFile(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
	}

	t := &peTable{r: r, size: size}
	for _, s := range f.Sections {
		t.sections = append(t.sections, peSection{
			va:    s.VirtualAddress,
			vsize: s.VirtualSize,
			off:   s.Offset,
			size:  s.Size,
			code:  s.Characteristics&peScnCntCode != 0,
		})
	}

	if h.exports.VirtualAddress == 0 || h.exports.Size == 0 {
		return nil, fmt.Errorf("%w: no export directory", ErrMissingSection)
	}
	t.exportStart = h.exports.VirtualAddress
	t.exportEnd = uint64(h.exports.VirtualAddress) + uint64(h.exports.Size)

	dirOff, err := t.fileOffset(h.exports.VirtualAddress)
	if err != nil {
		return nil, err
	}
	if err := readStruct(r, binary.LittleEndian, dirOff, &t.dir); err != nil {
		return nil, err
	}
	if t.count, err = tableLen(uint64(t.dir.NumberOfNames)); err != nil {
		return nil, err
	}
	return t, nil
}

// fileOffset maps an RVA to its offset in the file through the section table.
func (t *peTable) fileOffset(rva uint32) (uint64, error) {
	for _, s := range t.sections {
		if rva >= s.va && rva-s.va < s.size {
			off := uint64(s.off) + uint64(rva-s.va)
			if !safe.Within(off, 1, t.size) {
				break
			}
			return off, nil
		}
	}
	return 0, fmt.Errorf("%w: rva %#x not backed by file data", ErrOutOfBounds, rva)
}

// section returns the section whose virtual range contains rva.
func (t *peTable) section(rva uint32) (peSection, bool) {
	for _, s := range t.sections {
		span := max(s.vsize, s.size)
		if rva >= s.va && rva-s.va < span {
			return s, true
		}
	}
	return peSection{}, false
}

func (t *peTable) Len() int { return t.count }

func (t *peTable) Entry(i int) (Symbol, bool, error) {
	if i < 0 || i >= t.count {
		return Symbol{}, false, fmt.Errorf("%w: export index %d", ErrOutOfBounds, i)
	}
	order := binary.LittleEndian

	namesOff, err := t.fileOffset(t.dir.AddressOfNames)
	if err != nil {
		return Symbol{}, false, err
	}
	ordsOff, err := t.fileOffset(t.dir.AddressOfNameOrdinals)
	if err != nil {
		return Symbol{}, false, err
	}

	nameSlot, err := entryOffset(namesOff, i, 4)
	if err != nil {
		return Symbol{}, false, err
	}
	nameRVA, err := readUint32(t.r, order, nameSlot)
	if err != nil {
		return Symbol{}, false, err
	}
	ordSlot, err := entryOffset(ordsOff, i, 2)
	if err != nil {
		return Symbol{}, false, err
	}
	ordinal, err := readUint16(t.r, order, ordSlot)
	if err != nil {
		return Symbol{}, false, err
	}
	if uint32(ordinal) >= t.dir.NumberOfFunctions {
		return Symbol{}, false, nil
	}

	funcsOff, err := t.fileOffset(t.dir.AddressOfFunctions)
	if err != nil {
		return Symbol{}, false, err
	}
	funcSlot, err := entryOffset(funcsOff, int(ordinal), 4)
	if err != nil {
		return Symbol{}, false, err
	}
	funcRVA, err := readUint32(t.r, order, funcSlot)
	if err != nil {
		return Symbol{}, false, err
	}
	if funcRVA == 0 {
		return Symbol{}, false, nil
	}
	if funcRVA >= t.exportStart && uint64(funcRVA) < t.exportEnd {
		return Symbol{}, false, nil
	}
	sec, ok := t.section(funcRVA)
	if !ok {
		return Symbol{}, false, nil
	}

	nameOff, err := t.fileOffset(nameRVA)
	if err != nil {
		return Symbol{}, false, err
	}
	name, err := readCString(t.r, nameOff, t.size)
	if err != nil {
		return Symbol{}, false, err
	}

	kind := SymbolObject
	if sec.code {
		kind = SymbolFunc
	}
	return Symbol{Name: name, Offset: uint64(funcRVA), Kind: kind}, true, nil
}

func (t *peTable) Close() error {
	if t.closer == nil {
		return nil
	}
	return t.closer.Close()
}

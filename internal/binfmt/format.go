package binfmt

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// Format identifies an executable container family.
type Format int

const (
	// FormatPE is the Portable Executable layout used by Windows modules.
	FormatPE Format = iota + 1
	// FormatELF is the Executable and Linkable Format.
	FormatELF
	// FormatMachO is the Mach object file format.
	FormatMachO
)

// String returns the configuration name of the format.
func (f Format) String() string {
	switch f {
	case FormatPE:
		return "pe"
	case FormatELF:
		return "elf"
	case FormatMachO:
		return "macho"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// ParseFormat parses a format name as written in configuration files.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pe", "coff":
		return FormatPE, nil
	case "elf":
		return FormatELF, nil
	case "macho", "mach-o":
		return FormatMachO, nil
	default:
		return 0, fmt.Errorf("unknown container format %q (expected pe, elf or macho)", s)
	}
}

// Arch identifies the machine architecture and bit-width accepted by the parsers.
type Arch int

const (
	// Arch386 is 32-bit x86, the default.
	Arch386 Arch = iota + 1
	// ArchAMD64 is 64-bit x86. It is only accepted when configured explicitly.
	ArchAMD64
)

// String returns the configuration name of the architecture.
func (a Arch) String() string {
	switch a {
	case Arch386:
		return "386"
	case ArchAMD64:
		return "amd64"
	default:
		return fmt.Sprintf("arch(%d)", int(a))
	}
}

// Is64 reports whether the architecture uses 64-bit headers.
func (a Arch) Is64() bool {
	return a == ArchAMD64
}

// ParseArch parses an architecture name.
func ParseArch(s string) (Arch, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "386", "i386", "x86":
		return Arch386, nil
	case "amd64", "x86_64", "x86-64":
		return ArchAMD64, nil
	default:
		return 0, fmt.Errorf("unknown architecture %q (expected 386 or amd64)", s)
	}
}

// Target is the single container configuration a build accepts.
// Modules whose headers disagree with it are rejected.
type Target struct {
	Format Format
	Arch   Arch
}

// DefaultTarget returns the native container format of the build platform with
// the 32-bit x86 architecture.
func DefaultTarget() Target {
	return Target{Format: defaultFormat, Arch: Arch386}
}

// Validate checks that both fields name a known value.
func (t Target) Validate() error {
	switch t.Format {
	case FormatPE, FormatELF, FormatMachO:
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, t.Format)
	}
	switch t.Arch {
	case Arch386, ArchAMD64:
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, t.Arch)
	}
	return nil
}

// String returns "format/arch".
func (t Target) String() string {
	return t.Format.String() + "/" + t.Arch.String()
}

var (
	// ErrUnsupportedFormat is returned when a header does not match the target.
	ErrUnsupportedFormat = errors.New("unsupported container format")
	// ErrMissingSection is returned when the symbol or string table is absent.
	ErrMissingSection = errors.New("missing section")
	// ErrOutOfBounds is returned when a header-declared offset or size points
	// outside the data it describes.
	ErrOutOfBounds = errors.New("offset out of bounds")
)

// SymbolKind classifies a retained symbol table entry.
type SymbolKind uint8

const (
	// SymbolFunc marks code.
	SymbolFunc SymbolKind = iota + 1
	// SymbolObject marks data.
	SymbolObject
)

// String returns a short label for listings.
func (k SymbolKind) String() string {
	switch k {
	case SymbolFunc:
		return "func"
	case SymbolObject:
		return "object"
	default:
		return "unknown"
	}
}

// Symbol is a retained symbol table entry. Offset is relative to the module base.
type Symbol struct {
	Name   string
	Offset uint64
	Kind   SymbolKind
}

// Table is an indexed view over a module's symbol table.
//
// Entry returns ok=false for entries that are undefined or neither a function
// nor a data object. Entries are decoded on demand so callers can stop early.
type Table interface {
	Len() int
	Entry(i int) (sym Symbol, ok bool, err error)
	Close() error
}

// Locate validates the module header readable through image and returns the
// size of the region that makes up the module.
//
//   - PE: SizeOfImage from the optional header.
//   - ELF: file size of the first PT_LOAD segment with flags exactly R|X,
//     rounded up to the page size. Later executable segments are not counted.
//   - Mach-O: sum of the vmsize of every segment load command.
func Locate(t Target, image io.ReaderAt) (uint64, error) {
	switch t.Format {
	case FormatPE:
		return locatePE(t.Arch, image)
	case FormatELF:
		return locateELF(t.Arch, image)
	case FormatMachO:
		return locateMachO(t.Arch, image)
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedFormat, t.Format)
	}
}

// OpenTable maps the module file at path and opens its symbol table.
// The mapping is released by Table.Close.
func OpenTable(t Target, path string) (Table, error) {
	switch t.Format {
	case FormatPE:
		return openPETable(t.Arch, path)
	case FormatELF:
		return openELFTable(t.Arch, path)
	case FormatMachO:
		return openMachOFileTable(t.Arch, path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, t.Format)
	}
}

// ImageTable opens the symbol table of a Mach-O image that is already mapped,
// reading through image. Every read is checked against size.
func ImageTable(t Target, image io.ReaderAt, size uint64) (Table, error) {
	if t.Format != FormatMachO {
		return nil, fmt.Errorf("%w: %s images keep no resident symbol table", ErrUnsupportedFormat, t.Format)
	}
	tbl, err := newMachOImageTable(t.Arch, newBoundedReader(image, size))
	if err != nil {
		return nil, err
	}
	return tbl, nil
}

// TableFromImage reports whether the symbol table of format f is read from the
// mapped image rather than from the backing file.
func TableFromImage(f Format) bool {
	return f == FormatMachO
}

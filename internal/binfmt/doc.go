// Package binfmt parses the executable container formats a module can be
// loaded from.
//
// The set of formats is closed: PE, ELF and Mach-O. A Target pins one format
// and one architecture, and every header that does not match it is rejected
// with ErrUnsupportedFormat rather than parsed on a best-effort basis.
//
// Two operations are provided per format:
//   - Locate validates the header of a mapped image and sizes its region
//   - OpenTable and ImageTable expose the symbol table as an indexed Table,
//     decoded one entry at a time so callers can resume where they stopped
//
// ELF and PE tables are read from the module's file through a transient
// memory mapping. Mach-O tables are read from the mapped image itself, within
// the bounds computed by Locate.
package binfmt

// Package symfinder locates functions and data objects inside modules that are
// already loaded into the current process.
//
// A Finder resolves a target in one of two ways:
//
//   - by name, by reading the module's symbol table and caching every entry
//     visited on the way, so repeated lookups never rescan the table;
//   - by pattern, by scanning the module's mapped code for a fixed-length byte
//     signature in which one reserved byte value matches anything.
//
// A Finder is configured for exactly one container format (PE, ELF or Mach-O)
// and one architecture. Modules that do not match are rejected rather than
// guessed at. The default architecture is 32-bit x86; 64-bit modules are only
// accepted when ArchAMD64 is configured explicitly.
//
// Every failure returned by a Finder matches ErrNoResult. The Kind carried by
// *Error is diagnostic and meant for logs.
//
// The platform loader and memory access are supplied through the Host
// interface. Package host provides implementations for the running OS.
package symfinder

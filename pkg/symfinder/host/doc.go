// Package host implements symfinder.Host for the running process.
//
// Modules are opened through the platform's dynamic loader with immediate
// binding and local visibility. Memory reads are checked against the process
// mappings before any byte is touched:
//
//   - linux reads /proc/self/maps and resolves handles with dladdr;
//   - darwin matches handles against the dyld image list;
//   - windows uses LoadLibraryEx and VirtualQuery.
package host

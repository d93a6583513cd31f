// Package engine defines the query contract between the bridge and a
// binary-analysis engine.
//
// The bridge never reaches into engine internals. Everything it knows about
// a loaded binary comes through the Engine interface: segments, procedures,
// string literals, cross references, pseudocode and disassembly. Engines are
// assumed to be single-caller; the bridge serializes access.
//
// The objfile subpackage provides a built-in implementation over ELF, Mach-O
// and PE files. The enginetest subpackage provides a scriptable double.
package engine

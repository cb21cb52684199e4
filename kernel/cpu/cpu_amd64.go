// Package cpu exposes the privileged amd64 instructions that the memory
// subsystem needs. All functions are implemented in assembly and fault if
// invoked outside ring 0.
package cpu

// Halt disables interrupts and stops instruction execution.
func Halt()

// FlushTLBEntry invalidates the TLB entry for the page containing virtAddr.
func FlushTLBEntry(virtAddr uintptr)

// ActivePDT returns the raw contents of the CR3 register. Bits 12-51 hold the
// physical address of the active level 4 page table; the low 12 bits carry
// PCID/cache-control bits that callers must mask out.
func ActivePDT() uintptr

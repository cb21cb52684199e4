package vmm

import "tutorialos/kernel/mem"

// Page describes a virtual memory page index.
type Page uintptr

// Address returns the virtual address of the first byte of this page.
func (p Page) Address() uintptr {
	return uintptr(p << mem.PageShift)
}

// PageFromAddress returns the Page that contains the given virtual address.
// Unaligned addresses are rounded down.
func PageFromAddress(virtAddr uintptr) Page {
	return Page((virtAddr &^ (uintptr(mem.PageSize) - 1)) >> mem.PageShift)
}

// PageTableIndices splits a virtual address into the 9-bit entry indices used
// at each paging level, ordered from the level 4 table down to the level 1
// table.
func PageTableIndices(virtAddr uintptr) [pageLevels]uintptr {
	var indices [pageLevels]uintptr
	for level := uint8(0); level < pageLevels; level++ {
		indices[level] = pageTableIndex(virtAddr, level)
	}
	return indices
}

// pageTableIndex extracts the bits from a virtual address that select the
// entry in the table for the given level (0 = level 4 table).
func pageTableIndex(virtAddr uintptr, level uint8) uintptr {
	return (virtAddr >> pageLevelShifts[level]) & ((1 << pageLevelBits[level]) - 1)
}

// PageOffset returns the offset within the page specified by a virtual
// address.
func PageOffset(virtAddr uintptr) uintptr {
	return virtAddr & ((1 << pageLevelShifts[pageLevels-1]) - 1)
}

// VirtAddrFromIndices assembles a canonical virtual address out of the
// per-level table indices (level 4 first) and a page offset. Index and offset
// bits beyond their field widths are discarded.
func VirtAddrFromIndices(indices [pageLevels]uintptr, offset uintptr) uintptr {
	virtAddr := PageOffset(offset)
	for level := uint8(0); level < pageLevels; level++ {
		virtAddr |= (indices[level] & ((1 << pageLevelBits[level]) - 1)) << pageLevelShifts[level]
	}

	return signExtend(virtAddr)
}

// IsCanonical returns true if bits 48-63 of virtAddr are all copies of bit 47.
// The CPU faults on any access through a non-canonical address.
func IsCanonical(virtAddr uintptr) bool {
	return signExtend(virtAddr) == virtAddr
}

func signExtend(virtAddr uintptr) uintptr {
	const upperBits = ^uintptr(1<<virtAddrBits - 1)
	if virtAddr&(1<<(virtAddrBits-1)) != 0 {
		return virtAddr | upperBits
	}
	return virtAddr &^ upperBits
}

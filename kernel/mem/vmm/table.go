package vmm

import (
	"tutorialos/kernel"
	"tutorialos/kernel/cpu"
	"tutorialos/kernel/mem/pmm"
	"unsafe"
)

var (
	// activePDTFn is used by tests to override calls to cpu.ActivePDT
	// which will cause a fault if called in user-mode.
	activePDTFn = cpu.ActivePDT

	// flushTLBEntryFn is used by tests to override calls to
	// cpu.FlushTLBEntry which will cause a fault if called in user-mode.
	flushTLBEntryFn = cpu.FlushTLBEntry

	errInvalidTableIndex = &kernel.Error{Module: "vmm", Message: "page table index out of range"}
)

// PageTable is a 4K page table with 512 entries. The same layout is used at
// every paging level.
type PageTable struct {
	entries [entriesPerTable]PageTableEntry
}

// Entry returns a pointer to the entry at the given index. Indices outside
// [0, 511] are a programming error and cause a kernel panic.
func (t *PageTable) Entry(index uintptr) *PageTableEntry {
	if index >= entriesPerTable {
		panic(errInvalidTableIndex)
	}
	return &t.entries[index]
}

// TLBFlushFn invalidates any cached translation for the page containing the
// supplied virtual address.
type TLBFlushFn func(virtAddr uintptr)

// OffsetPageTable provides access to the active page table hierarchy through
// the linear mapping of physical memory that the bootloader installs at
// physOffset: the table stored in physical frame f is reachable at virtual
// address physOffset+f.Address().
//
// An OffsetPageTable is the only place where physical table addresses are
// turned into pointers. It is not safe for concurrent use.
type OffsetPageTable struct {
	l4Frame         pmm.Frame
	physOffset      uintptr
	flushTLBEntryFn TLBFlushFn
}

// Init returns an OffsetPageTable for the page table hierarchy that is
// currently loaded in CR3. The caller guarantees that all physical memory is
// mapped at physOffset; this is not verified.
func Init(physOffset uintptr) OffsetPageTable {
	return NewOffsetPageTable(
		pmm.FrameFromAddress(activePDTFn()&ptePhysPageMask),
		physOffset,
		flushTLBEntryFn,
	)
}

// NewOffsetPageTable returns an OffsetPageTable for the hierarchy whose level
// 4 table is stored at l4Frame. flushFn is invoked for every page whose
// mapping changes.
func NewOffsetPageTable(l4Frame pmm.Frame, physOffset uintptr, flushFn TLBFlushFn) OffsetPageTable {
	return OffsetPageTable{
		l4Frame:         l4Frame,
		physOffset:      physOffset,
		flushTLBEntryFn: flushFn,
	}
}

// Level4Frame returns the physical frame that holds the level 4 table.
func (pdt *OffsetPageTable) Level4Frame() pmm.Frame {
	return pdt.l4Frame
}

// PhysOffset returns the virtual address where physical memory is mapped.
func (pdt *OffsetPageTable) PhysOffset() uintptr {
	return pdt.physOffset
}

// Level4 returns the level 4 table.
func (pdt *OffsetPageTable) Level4() *PageTable {
	return pdt.tableAt(pdt.l4Frame)
}

// tableAt returns the page table stored in the given physical frame.
func (pdt *OffsetPageTable) tableAt(frame pmm.Frame) *PageTable {
	return (*PageTable)(unsafe.Pointer(pdt.physOffset + frame.Address()))
}

// pageTableWalker is a function that can be passed to the walk method. The
// function receives the current page level (0 for the level 4 table) and the
// entry that the virtual address selects at that level. If the function
// returns false, then the page walk is aborted.
type pageTableWalker func(pteLevel uint8, pte *PageTableEntry) bool

// walk performs a page table walk for the given virtual address, invoking
// walkFn with the entry selected at each level. Once walkFn returns true for
// a level 4, 3 or 2 entry, walk descends into the table that entry points to;
// walkFn must therefore only return true for entries that are present and do
// not map a huge page.
func (pdt *OffsetPageTable) walk(virtAddr uintptr, walkFn pageTableWalker) {
	table := pdt.Level4()
	for level := uint8(0); level < pageLevels; level++ {
		pte := table.Entry(pageTableIndex(virtAddr, level))
		if !walkFn(level, pte) {
			return
		}

		if level < pageLevels-1 {
			table = pdt.tableAt(pte.Frame())
		}
	}
}

package vmm

import (
	"tutorialos/kernel"
	"tutorialos/kernel/kfmt"
	"tutorialos/kernel/mem"
	"tutorialos/kernel/mem/pmm"
)

var (
	// ErrPageAlreadyMapped is returned by Map when the target page already
	// has a present level 1 entry.
	ErrPageAlreadyMapped = &kernel.Error{Module: "vmm", Message: "page is already mapped"}

	// ErrTableAllocFailed is returned by Map when a frame for a missing
	// intermediate page table could not be allocated.
	ErrTableAllocFailed = &kernel.Error{Module: "vmm", Message: "could not allocate frame for page table"}

	// memsetFn is used by tests to observe the zeroing of new page tables.
	memsetFn = kernel.Memset
)

// Map establishes a mapping between a virtual page and a physical memory frame
// using the currently active page directory table. Calls to Map will use the
// supplied physical frame allocator to initialize missing page tables at each
// paging level supported by the MMU.
//
// Intermediate tables are linked as present and writable; they are also made
// user-accessible if flags contains FlagUserAccessible so that the final
// entry decides the effective permissions. FlagPresent is always added to
// the final entry.
func (pdt *OffsetPageTable) Map(page Page, frame pmm.Frame, flags PageTableEntryFlag, alloc pmm.FrameAllocator) *kernel.Error {
	if !IsCanonical(page.Address()) {
		return ErrNonCanonicalAddress
	}

	var err *kernel.Error

	pdt.walk(page.Address(), func(pteLevel uint8, pte *PageTableEntry) bool {
		// If we reached the last level all we need to do is to map the
		// frame in place and flush its TLB entry
		if pteLevel == pageLevels-1 {
			if pte.HasFlags(FlagPresent) {
				err = ErrPageAlreadyMapped
				return false
			}

			*pte = 0
			pte.SetFrame(frame)
			pte.SetFlags(FlagPresent | flags)
			pdt.flushTLBEntryFn(page.Address())
			return true
		}

		// Next table does not yet exist; we need to allocate a
		// physical frame for it, map it and clear its contents. The
		// remaining bits of a non-present entry are ignored.
		if !pte.HasFlags(FlagPresent) {
			newTableFrame, allocErr := alloc.AllocFrame()
			if allocErr != nil {
				err = ErrTableAllocFailed
				return false
			}

			*pte = 0
			pte.SetFrame(newTableFrame)
			pte.SetFlags(FlagPresent | FlagRW | (flags & FlagUserAccessible))

			memsetFn(pdt.physOffset+newTableFrame.Address(), 0, uintptr(mem.PageSize))
			return true
		}

		if pte.HasFlags(FlagHugePage) {
			panic(errNoHugePageSupport)
		}
		if flags&FlagUserAccessible != 0 {
			pte.SetFlags(FlagUserAccessible)
		}

		return true
	})

	return err
}

// Unmap removes a mapping previously installed via a call to Map and flushes
// the TLB entry for the page. Tables that become empty are not reclaimed.
func (pdt *OffsetPageTable) Unmap(page Page) *kernel.Error {
	if !IsCanonical(page.Address()) {
		return ErrNonCanonicalAddress
	}

	var err *kernel.Error

	pdt.walk(page.Address(), func(pteLevel uint8, pte *PageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			err = ErrInvalidMapping
			return false
		}

		if pteLevel == pageLevels-1 {
			pte.ClearFlags(FlagPresent)
			pdt.flushTLBEntryFn(page.Address())
			return true
		}

		if pte.HasFlags(FlagHugePage) {
			panic(errNoHugePageSupport)
		}

		return true
	})

	return err
}

// CreateMapping maps page to frame as present and writable. Boot code has no
// way to recover from a failed mapping so any error returned by Map causes a
// kernel panic.
func CreateMapping(pdt *OffsetPageTable, page Page, frame pmm.Frame, alloc pmm.FrameAllocator) {
	if err := pdt.Map(page, frame, FlagPresent|FlagRW, alloc); err != nil {
		panic(err)
	}

	kfmt.Printf("[vmm] mapped page 0x%x -> frame 0x%x\n", page.Address(), frame.Address())
}

package vmm

import (
	"tutorialos/kernel"
	"tutorialos/kernel/mem/pmm"
)

var (
	// ErrInvalidMapping is returned when trying to lookup a virtual memory address that is not yet mapped.
	ErrInvalidMapping = &kernel.Error{Module: "vmm", Message: "virtual address does not point to a mapped physical page"}

	// ErrNonCanonicalAddress is returned for virtual addresses whose bits
	// 48-63 do not replicate bit 47.
	ErrNonCanonicalAddress = &kernel.Error{Module: "vmm", Message: "virtual address is not canonical"}

	errNoHugePageSupport = &kernel.Error{Module: "vmm", Message: "huge pages are not supported"}
)

// Translate returns the physical address that corresponds to the supplied
// virtual address or ErrInvalidMapping if the virtual address does not
// correspond to a mapped physical address.
//
// Translate panics if the walk runs into an entry that maps a huge page.
func (pdt *OffsetPageTable) Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	frame, err := pdt.TranslatePage(PageFromAddress(virtAddr))
	if err != nil {
		return 0, err
	}

	// Calculate the physical address by taking the physical frame address and
	// appending the offset from the virtual address
	return frame.Address() + PageOffset(virtAddr), nil
}

// TranslatePage returns the physical frame that page is mapped to. It
// behaves like Translate.
func (pdt *OffsetPageTable) TranslatePage(page Page) (pmm.Frame, *kernel.Error) {
	if !IsCanonical(page.Address()) {
		return pmm.InvalidFrame, ErrNonCanonicalAddress
	}

	var (
		err   *kernel.Error
		frame = pmm.InvalidFrame
	)

	pdt.walk(page.Address(), func(pteLevel uint8, pte *PageTableEntry) bool {
		if !pte.HasFlags(FlagPresent) {
			err = ErrInvalidMapping
			return false
		}

		if pteLevel < pageLevels-1 && pte.HasFlags(FlagHugePage) {
			panic(errNoHugePageSupport)
		}

		frame = pte.Frame()
		return true
	})

	if err != nil {
		return pmm.InvalidFrame, err
	}

	return frame, nil
}

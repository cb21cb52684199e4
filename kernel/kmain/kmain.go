package kmain

import (
	"tutorialos/kernel"
	"tutorialos/kernel/hal/bootinfo"
	"tutorialos/kernel/kfmt"
	"tutorialos/kernel/mem/pmm"
	"tutorialos/kernel/mem/pmm/allocator"
	"tutorialos/kernel/mem/vmm"
	"unsafe"
)

const (
	// vgaTextFrameAddr is the physical address of the VGA text buffer.
	vgaTextFrameAddr = uintptr(0xb8000)

	// helloPattern spells "New!" in white on black when written to the VGA
	// text buffer.
	helloPattern = uint64(0xf021f077f065f04e)

	// helloOffset is the qword index inside the mapped page that receives
	// helloPattern.
	helloOffset = 400
)

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}

	// frameAllocator is the early frame allocator. It lives in the data
	// segment since there is no heap yet.
	frameAllocator allocator.RegionAllocator

	// The following hooks are overridden by tests; the real implementations
	// need ring 0.
	initPDTFn = vmm.Init
	write64Fn = write64
	panicFn   = kfmt.Panic
)

// Kmain is the only Go symbol that is visible (exported) from the rt0
// initialization code. The bootloader has already enabled paging, mapped all
// physical memory at a fixed offset and identity mapped the low memory; it
// passes a pointer to the boot info block that describes this setup.
//
// Kmain is not expected to return. If it does, the CPU is halted.
//
//go:noinline
func Kmain(bootInfoPtr uintptr) {
	bootinfo.SetInfoPtr(bootInfoPtr)
	frameAllocator.Init(bootinfo.VisitMemRegions)

	Boot(bootInfoPtr, &frameAllocator, initPDTFn, write64Fn)

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating kfmt.Panic as dead-code and eliminating it.
	panicFn(errKmainReturned)
}

// Boot brings up the memory subsystem and exercises it. alloc must already be
// initialized by the caller; Boot only draws frames from it, so its cursor
// carries over from any earlier allocations. initPDT returns an accessor for
// the active page tables and poke performs a 64-bit store to a virtual
// address; both are parameters so the sequence can also run inside a
// simulated machine.
func Boot(bootInfoPtr uintptr, alloc *allocator.RegionAllocator, initPDT func(physOffset uintptr) vmm.OffsetPageTable, poke func(virtAddr uintptr, value uint64)) {
	bootinfo.SetInfoPtr(bootInfoPtr)
	physOffset := bootinfo.PhysMemOffset()

	pdt := initPDT(physOffset)
	kfmt.Printf("[kmain] level 4 page table at 0x%x\n", pdt.Level4Frame().Address())

	alloc.PrintMemoryMap()

	page := vmm.PageFromAddress(0)
	vmm.CreateMapping(&pdt, page, pmm.FrameFromAddress(vgaTextFrameAddr), alloc)
	poke(page.Address()+helloOffset*8, helloPattern)
	kfmt.Printf("[kmain] hello world!\n")

	probes := [...]uintptr{
		vgaTextFrameAddr,
		0x201008,
		0x0100_0020_1a10,
		physOffset,
	}
	for _, virtAddr := range probes {
		physAddr, err := pdt.Translate(virtAddr)
		if err != nil {
			kfmt.Printf("[kmain] 0x%x -> none (%s)\n", virtAddr, err.Message)
			continue
		}
		kfmt.Printf("[kmain] 0x%x -> 0x%x\n", virtAddr, physAddr)
	}

	vmm.DumpTables(&pdt)
	kfmt.Printf("[kmain] it did not crash!\n")
}

func write64(virtAddr uintptr, value uint64) {
	*(*uint64)(unsafe.Pointer(virtAddr)) = value
}

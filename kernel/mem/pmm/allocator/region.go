package allocator

import (
	"tutorialos/kernel"
	"tutorialos/kernel/hal/bootinfo"
	"tutorialos/kernel/kfmt"
	"tutorialos/kernel/mem"
	"tutorialos/kernel/mem/pmm"
)

// RegionVisitFn scans a memory map, invoking the supplied visitor for each
// region in order. bootinfo.VisitMemRegions satisfies this signature.
type RegionVisitFn func(bootinfo.MemRegionVisitor)

// RegionAllocator hands out the frames of the usable regions reported by the
// firmware memory map, in memory map order.
//
// The allocator keeps no free list; it only counts how many frames it has
// handed out. Every AllocFrame call re-derives the sequence of usable frames
// from the memory map and returns the frame at that position. The cursor is
// advanced on every call, successful or not, and never rewinds, so a frame is
// never issued twice and exhaustion is permanent. There is no way to free a
// frame; a proper allocator is expected to take over once the kernel is up.
//
// Re-scanning the memory map on each call is acceptable only because the
// number of allocations performed during early boot is small.
type RegionAllocator struct {
	visitRegionsFn RegionVisitFn

	// next is the position, in the usable frame sequence, of the frame
	// returned by the next AllocFrame call.
	next uint64
}

// Init sets up the allocator to serve frames out of the regions reported by
// visitFn. The memory map must not change for the lifetime of the allocator.
func (alloc *RegionAllocator) Init(visitFn RegionVisitFn) {
	alloc.visitRegionsFn = visitFn
	alloc.next = 0
}

// AllocFrame returns the next usable frame or pmm.InvalidFrame and
// ErrOutOfMemory once all usable frames have been handed out.
func (alloc *RegionAllocator) AllocFrame() (pmm.Frame, *kernel.Error) {
	var (
		target = alloc.next
		frame  = pmm.InvalidFrame
		seen   uint64
	)

	alloc.next++

	alloc.visitRegionsFn(func(region *bootinfo.MemoryRegion) bool {
		startFrame, endFrame := usableFrameRange(region)
		count := uint64(endFrame - startFrame)
		if target < seen+count {
			frame = startFrame + pmm.Frame(target-seen)
			return false
		}

		seen += count
		return true
	})

	if !frame.Valid() {
		return pmm.InvalidFrame, ErrOutOfMemory
	}

	return frame, nil
}

// UsableFrames returns the total number of frames this allocator can hand
// out over its lifetime.
func (alloc *RegionAllocator) UsableFrames() uint64 {
	var total uint64
	alloc.visitRegionsFn(func(region *bootinfo.MemoryRegion) bool {
		startFrame, endFrame := usableFrameRange(region)
		total += uint64(endFrame - startFrame)
		return true
	})

	return total
}

// PrintMemoryMap writes the memory map and the allocator state to the
// diagnostic sink.
func (alloc *RegionAllocator) PrintMemoryMap() {
	var totalFree mem.Size

	kfmt.Printf("[frame_alloc] system memory map:\n")
	alloc.visitRegionsFn(func(region *bootinfo.MemoryRegion) bool {
		kfmt.Printf("\t[0x%10x - 0x%10x], size: %10d, type: %s\n", region.PhysAddress, region.End(), region.Length, region.Type.String())

		startFrame, endFrame := usableFrameRange(region)
		totalFree += mem.Size(endFrame-startFrame) * mem.PageSize
		return true
	})
	kfmt.Printf("[frame_alloc] available memory: %dKb, frames handed out: %d\n", uint64(totalFree/mem.Kb), alloc.next)
}

// usableFrameRange returns the [start, end) frame range of a usable region.
// Region boundaries that are not page-aligned are shrunk inwards so that no
// returned frame extends past the region. Non-usable regions yield an empty
// range.
func usableFrameRange(region *bootinfo.MemoryRegion) (pmm.Frame, pmm.Frame) {
	if region.Type != bootinfo.RegionUsable {
		return 0, 0
	}

	pageSizeMinus1 := uint64(mem.PageSize - 1)
	startFrame := pmm.Frame(((region.PhysAddress + pageSizeMinus1) &^ pageSizeMinus1) >> mem.PageShift)
	endFrame := pmm.Frame((region.End() &^ pageSizeMinus1) >> mem.PageShift)
	if endFrame <= startFrame {
		return 0, 0
	}

	return startFrame, endFrame
}

// Package allocator provides the physical frame allocators used while the
// kernel boots.
package allocator

import (
	"tutorialos/kernel"
	"tutorialos/kernel/mem/pmm"
)

var (
	// ErrOutOfMemory is returned by allocators that cannot supply any more
	// frames. It signals absence rather than a fault; the caller decides
	// how to proceed.
	ErrOutOfMemory = &kernel.Error{Module: "frame_alloc", Message: "out of memory"}
)

// NullAllocator is a pmm.FrameAllocator that never hands out a frame. It is a
// safe placeholder for code paths that must not claim physical memory, e.g.
// before a memory map is available.
type NullAllocator struct{}

// AllocFrame always returns pmm.InvalidFrame and ErrOutOfMemory.
func (NullAllocator) AllocFrame() (pmm.Frame, *kernel.Error) {
	return pmm.InvalidFrame, ErrOutOfMemory
}

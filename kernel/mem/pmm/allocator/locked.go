package allocator

import (
	"tutorialos/kernel"
	"tutorialos/kernel/mem/pmm"
	"tutorialos/kernel/sync"
)

// LockedAllocator serializes access to another pmm.FrameAllocator. Neither
// RegionAllocator nor the page tables are safe for concurrent use; once
// interrupt handlers or other cores can request frames, callers must go
// through a LockedAllocator.
type LockedAllocator struct {
	lock  sync.Spinlock
	inner pmm.FrameAllocator
}

// Init sets the wrapped allocator.
func (alloc *LockedAllocator) Init(inner pmm.FrameAllocator) {
	alloc.inner = inner
}

// AllocFrame invokes the wrapped allocator while holding the lock.
func (alloc *LockedAllocator) AllocFrame() (pmm.Frame, *kernel.Error) {
	alloc.lock.Acquire()
	frame, err := alloc.inner.AllocFrame()
	alloc.lock.Release()
	return frame, err
}

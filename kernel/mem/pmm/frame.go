// Package pmm contains the physical frame abstraction and the capability
// used to request new frames.
package pmm

import (
	"math"
	"tutorialos/kernel"
	"tutorialos/kernel/mem"
)

// Frame describes a physical memory page index.
type Frame uintptr

const (
	// InvalidFrame is returned by frame allocators when they fail to
	// reserve a frame.
	InvalidFrame = Frame(math.MaxUint64)
)

// Valid returns true if this is a valid frame.
func (f Frame) Valid() bool {
	return f != InvalidFrame
}

// Address returns the physical address of the first byte of this frame. The
// returned address is always page-aligned.
func (f Frame) Address() uintptr {
	return uintptr(f << mem.PageShift)
}

// FrameFromAddress returns the Frame that contains the given physical
// address. Unaligned addresses are rounded down.
func FrameFromAddress(physAddr uintptr) Frame {
	return Frame((physAddr &^ (uintptr(mem.PageSize) - 1)) >> mem.PageShift)
}

// FrameAllocator is implemented by types that hand out physical frames.
// AllocFrame returns InvalidFrame and a non-nil error when no frame can be
// supplied; callers decide whether that is fatal.
type FrameAllocator interface {
	AllocFrame() (Frame, *kernel.Error)
}

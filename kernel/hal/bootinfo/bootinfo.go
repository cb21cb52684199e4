// Package bootinfo decodes the boot contract handed over by the bootloader:
// the virtual offset at which all physical memory is linearly mapped and the
// firmware-reported physical memory map.
//
// The bootloader passes a pointer to a block with the following layout (all
// fields little-endian):
//
//	offset  0: u64 physical memory offset
//	offset  8: u32 number of memory map entries
//	offset 12: u32 size of each memory map entry
//	offset 16: memory map entries
//
// Each memory map entry starts with {u64 phys address, u64 length, u32 type}.
// Entries may be larger than that (entry size > 20); the remaining bytes are
// ignored.
package bootinfo

import (
	"tutorialos/kernel"
	"unsafe"
)

const (
	// HeaderSize is the size of the boot info block header.
	HeaderSize = 16

	// EntrySize is the memory map entry size emitted by our bootloader.
	EntrySize = 24
)

var (
	infoData uintptr

	errUnknownRegionType = &kernel.Error{Module: "bootinfo", Message: "unknown memory region type"}
)

// header describes the boot info block header.
type header struct {
	physMemOffset uint64
	regionCount   uint32
	entrySize     uint32
}

// RegionType describes the usage of a MemoryRegion.
type RegionType uint32

const (
	// RegionUsable marks memory that is free for general allocation.
	RegionUsable RegionType = iota + 1

	// RegionReserved marks memory that must not be touched.
	RegionReserved

	// RegionAcpiReclaimable holds ACPI tables that may be reused once parsed.
	RegionAcpiReclaimable

	// RegionAcpiNvs must be preserved across sleep states.
	RegionAcpiNvs

	// RegionBadMemory contains defective RAM.
	RegionBadMemory

	// RegionKernel holds the loaded kernel image.
	RegionKernel

	// RegionPageTable holds the page tables built by the bootloader.
	RegionPageTable

	// RegionBootInfo holds the boot info block itself.
	RegionBootInfo

	// RegionFrameZero is the first physical frame, never handed out so that
	// a zero frame can be treated as a bug.
	RegionFrameZero

	// Any value >= regionUnknown is reported as RegionReserved.
	regionUnknown
)

var regionTypeNames = [...]string{
	RegionUsable:          "usable",
	RegionReserved:        "reserved",
	RegionAcpiReclaimable: "acpi_reclaimable",
	RegionAcpiNvs:         "acpi_nvs",
	RegionBadMemory:       "bad_memory",
	RegionKernel:          "kernel",
	RegionPageTable:       "page_table",
	RegionBootInfo:        "boot_info",
	RegionFrameZero:       "frame_zero",
}

// String implements fmt.Stringer for RegionType.
func (t RegionType) String() string {
	if t == 0 || t >= regionUnknown {
		return "unknown"
	}
	return regionTypeNames[t]
}

// ParseRegionType returns the RegionType whose String() value matches name.
func ParseRegionType(name string) (RegionType, bool) {
	for t := RegionUsable; t < regionUnknown; t++ {
		if regionTypeNames[t] == name {
			return t, true
		}
	}
	return 0, false
}

// MarshalText implements encoding.TextMarshaler.
func (t RegionType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so region types can be
// spelled out by name in machine profiles.
func (t *RegionType) UnmarshalText(text []byte) error {
	parsed, ok := ParseRegionType(string(text))
	if !ok {
		return errUnknownRegionType
	}
	*t = parsed
	return nil
}

// MemoryRegion describes a physical memory range reported by the firmware.
type MemoryRegion struct {
	// The physical address where this region starts.
	PhysAddress uint64

	// The length of the region in bytes.
	Length uint64

	// The type of this region.
	Type RegionType
}

// End returns the first physical address past the end of the region.
func (r *MemoryRegion) End() uint64 {
	return r.PhysAddress + r.Length
}

// MemRegionVisitor is invoked by VisitMemRegions for each memory region. The
// visitor must return true to continue or false to abort the scan.
type MemRegionVisitor func(*MemoryRegion) bool

// SetInfoPtr updates the internal boot info pointer to the given value. This
// function must be invoked before invoking any other function exported by
// this package.
func SetInfoPtr(ptr uintptr) {
	infoData = ptr
}

// PhysMemOffset returns the virtual address at which the bootloader mapped
// physical address 0. Every physical address p is reachable at
// PhysMemOffset()+p.
func PhysMemOffset() uintptr {
	return uintptr((*header)(unsafe.Pointer(infoData)).physMemOffset)
}

// VisitMemRegions invokes visitor for each memory map entry in the order
// reported by the bootloader.
func VisitMemRegions(visitor MemRegionVisitor) {
	var (
		hdr    = (*header)(unsafe.Pointer(infoData))
		curPtr = infoData + unsafe.Sizeof(*hdr)
		entry  *MemoryRegion
	)

	for index := uint32(0); index < hdr.regionCount; index, curPtr = index+1, curPtr+uintptr(hdr.entrySize) {
		entry = (*MemoryRegion)(unsafe.Pointer(curPtr))

		// Mark unknown entry types as reserved
		if entry.Type == 0 || entry.Type >= regionUnknown {
			entry.Type = RegionReserved
		}

		if !visitor(entry) {
			return
		}
	}
}

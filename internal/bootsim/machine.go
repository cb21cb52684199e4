// Package bootsim simulates the machine state a bootloader leaves behind
// when it jumps to the kernel: physical memory, a memory map, a four level
// page table hierarchy and the boot info block describing it all.
//
// Physical memory is an anonymous host mapping. Its host address doubles as
// the physical memory offset, so kernel code that dereferences
// physOffset+physAddr touches the simulated memory directly.
package bootsim

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"tutorialos/kernel/hal/bootinfo"
	"tutorialos/kernel/mem/pmm"
	"tutorialos/kernel/mem/pmm/allocator"
)

const (
	pageSize     = 0x1000
	hugePageSize = 0x200000

	entryPresent  = 1 << 0
	entryWritable = 1 << 1
	entryHuge     = 1 << 7
	entryAddrMask = 0x000ffffffffff000
)

// Machine is a simulated machine right after the bootloader handed over
// control.
type Machine struct {
	cfg  Config
	phys []byte

	l4Phys       uint64
	bootInfoPhys uint64
	tableFrames  int

	tableAlloc allocator.RegionAllocator
	flushed    []uintptr
}

// New allocates physical memory for the machine described by cfg and
// performs the bootloader's work: building the page tables and writing the
// boot info block. The returned machine must be released with Close.
func New(cfg Config) (*Machine, error) {
	if len(cfg.Regions) == 0 {
		cfg.Regions = DefaultRegions(cfg.MemorySize)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid machine profile: %w", err)
	}

	phys, err := unix.Mmap(-1, 0, int(cfg.MemorySize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("mapping %d bytes of physical memory: %w", cfg.MemorySize, err)
	}

	m := &Machine{cfg: cfg, phys: phys}
	m.tableAlloc.Init(m.visitTableRegions)

	if err := m.boot(); err != nil {
		_ = m.Close()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"memory":      cfg.MemorySize,
		"phys_offset": fmt.Sprintf("%#x", m.PhysMemOffset()),
		"l4":          fmt.Sprintf("%#x", m.l4Phys),
		"tables":      m.tableFrames,
	}).Debug("bootsim: machine ready")

	return m, nil
}

// Close releases the simulated physical memory. Pointers obtained from the
// machine must not be used afterwards.
func (m *Machine) Close() error {
	if m.phys == nil {
		return nil
	}
	err := unix.Munmap(m.phys)
	m.phys = nil
	return err
}

func (m *Machine) boot() error {
	l4, err := m.allocTable()
	if err != nil {
		return err
	}
	m.l4Phys = l4

	if m.cfg.IdentityMap > pageSize {
		for addr := uint64(pageSize); addr < m.cfg.IdentityMap; addr += pageSize {
			if err := m.MapPage(uintptr(addr), addr); err != nil {
				return fmt.Errorf("identity mapping: %w", err)
			}
		}
	}

	if m.cfg.MapPhysicalMemory {
		offset := m.PhysMemOffset()
		for addr := uint64(0); addr < m.cfg.MemorySize; addr += pageSize {
			if err := m.MapPage(offset+uintptr(addr), addr); err != nil {
				return fmt.Errorf("mapping physical memory: %w", err)
			}
		}
	}

	for _, addr := range m.cfg.HugePages {
		if err := m.MapHuge(uintptr(addr), addr); err != nil {
			return fmt.Errorf("huge mapping: %w", err)
		}
	}

	m.writeBootInfo()
	return nil
}

// writeBootInfo stores the boot info block at the start of the first
// boot_info region.
func (m *Machine) writeBootInfo() {
	for _, region := range m.cfg.Regions {
		if region.Type == bootinfo.RegionBootInfo {
			m.bootInfoPhys = region.Start
			break
		}
	}

	blob := m.phys[m.bootInfoPhys:]
	binary.LittleEndian.PutUint64(blob[0:], uint64(m.PhysMemOffset()))
	binary.LittleEndian.PutUint32(blob[8:], uint32(len(m.cfg.Regions)))
	binary.LittleEndian.PutUint32(blob[12:], bootinfo.EntrySize)

	for i, region := range m.cfg.Regions {
		entry := blob[bootinfo.HeaderSize+i*bootinfo.EntrySize:]
		binary.LittleEndian.PutUint64(entry[0:], region.Start)
		binary.LittleEndian.PutUint64(entry[8:], region.Length)
		binary.LittleEndian.PutUint32(entry[16:], uint32(region.Type))
		binary.LittleEndian.PutUint32(entry[20:], 0)
	}
}

// visitTableRegions presents the page_table regions as the only usable
// memory so the bootloader's tables never land in memory the kernel may
// allocate.
func (m *Machine) visitTableRegions(visitor bootinfo.MemRegionVisitor) {
	for _, region := range m.cfg.Regions {
		r := bootinfo.MemoryRegion{PhysAddress: region.Start, Length: region.Length, Type: bootinfo.RegionReserved}
		if region.Type == bootinfo.RegionPageTable {
			r.Type = bootinfo.RegionUsable
		}
		if !visitor(&r) {
			return
		}
	}
}

func (m *Machine) allocTable() (uint64, error) {
	frame, err := m.tableAlloc.AllocFrame()
	if err != nil {
		return 0, fmt.Errorf("allocating page table: %w", err)
	}

	addr := uint64(frame.Address())
	clear(m.phys[addr : addr+pageSize])
	m.tableFrames++
	return addr, nil
}

func (m *Machine) entry(tablePhys uint64, index uint64) uint64 {
	return binary.LittleEndian.Uint64(m.phys[tablePhys+index*8:])
}

func (m *Machine) setEntry(tablePhys uint64, index uint64, value uint64) {
	binary.LittleEndian.PutUint64(m.phys[tablePhys+index*8:], value)
}

func tableIndex(virtAddr uintptr, level int) uint64 {
	return uint64(virtAddr>>(39-9*uint(level))) & 0x1ff
}

// descend walks from the level 4 table down to the table at depth levels
// (3 yields the level 1 table), creating missing tables.
func (m *Machine) descend(virtAddr uintptr, levels int) (uint64, error) {
	table := m.l4Phys
	for level := 0; level < levels; level++ {
		index := tableIndex(virtAddr, level)
		e := m.entry(table, index)
		switch {
		case e&entryHuge != 0:
			return 0, fmt.Errorf("address %#x is covered by a huge page", virtAddr)
		case e&entryPresent == 0:
			next, err := m.allocTable()
			if err != nil {
				return 0, err
			}
			m.setEntry(table, index, next|entryPresent|entryWritable)
			table = next
		default:
			table = e & entryAddrMask
		}
	}
	return table, nil
}

// MapPage installs a present, writable 4KiB mapping as the bootloader
// would. Page tables are taken from the page_table regions.
func (m *Machine) MapPage(virtAddr uintptr, physAddr uint64) error {
	l1, err := m.descend(virtAddr, 3)
	if err != nil {
		return err
	}

	index := tableIndex(virtAddr, 3)
	if m.entry(l1, index)&entryPresent != 0 {
		return fmt.Errorf("address %#x is already mapped", virtAddr)
	}
	m.setEntry(l1, index, (physAddr&entryAddrMask)|entryPresent|entryWritable)
	return nil
}

// MapHuge installs a 2MiB mapping through a level 2 entry with the huge
// page bit set.
func (m *Machine) MapHuge(virtAddr uintptr, physAddr uint64) error {
	l2, err := m.descend(virtAddr, 2)
	if err != nil {
		return err
	}

	index := tableIndex(virtAddr, 2)
	if m.entry(l2, index) != 0 {
		return fmt.Errorf("address %#x is already mapped", virtAddr)
	}
	m.setEntry(l2, index, (physAddr&entryAddrMask)|entryPresent|entryWritable|entryHuge)
	return nil
}

// Lookup translates virtAddr by walking the tables the way the MMU does. It
// follows huge entries and serves as a reference for the kernel's walker.
func (m *Machine) Lookup(virtAddr uintptr) (uint64, bool) {
	table := m.l4Phys
	for level := 0; level < 4; level++ {
		e := m.entry(table, tableIndex(virtAddr, level))
		if e&entryPresent == 0 {
			return 0, false
		}

		switch {
		case level == 3:
			return (e & entryAddrMask) | uint64(virtAddr&(pageSize-1)), true
		case e&entryHuge != 0 && level > 0:
			size := uint64(1) << (39 - 9*uint(level))
			return (e & entryAddrMask &^ (size - 1)) | uint64(virtAddr)&(size-1), true
		}
		table = e & entryAddrMask
	}
	return 0, false
}

// ActivePDT returns the value a CR3 read would produce: the physical address
// of the level 4 table.
func (m *Machine) ActivePDT() uintptr {
	return uintptr(m.l4Phys)
}

// L4Frame returns the frame holding the level 4 table.
func (m *Machine) L4Frame() pmm.Frame {
	return pmm.FrameFromAddress(uintptr(m.l4Phys))
}

// PhysMemOffset returns the virtual address at which physical address 0 is
// reachable.
func (m *Machine) PhysMemOffset() uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(m.phys)))
}

// BootInfoPtr returns the pointer a bootloader passes to the kernel entry
// point.
func (m *Machine) BootInfoPtr() uintptr {
	return m.PhysMemOffset() + uintptr(m.bootInfoPhys)
}

// TableFrames returns the number of frames the bootloader used for page
// tables.
func (m *Machine) TableFrames() int {
	return m.tableFrames
}

// FlushTLBEntry records a TLB invalidation for virtAddr.
func (m *Machine) FlushTLBEntry(virtAddr uintptr) {
	m.flushed = append(m.flushed, virtAddr)
}

// Flushed returns the addresses passed to FlushTLBEntry, in call order.
func (m *Machine) Flushed() []uintptr {
	return m.flushed
}

// VisitMemRegions reports the memory map the way bootinfo.VisitMemRegions
// does once the boot info block has been registered.
func (m *Machine) VisitMemRegions(visitor bootinfo.MemRegionVisitor) {
	for _, region := range m.cfg.Regions {
		r := bootinfo.MemoryRegion{PhysAddress: region.Start, Length: region.Length, Type: region.Type}
		if !visitor(&r) {
			return
		}
	}
}

// ReadPhys64 reads the 64-bit little-endian value stored at physAddr.
func (m *Machine) ReadPhys64(physAddr uint64) uint64 {
	return binary.LittleEndian.Uint64(m.phys[physAddr:])
}

// WritePhys64 stores a 64-bit little-endian value at physAddr.
func (m *Machine) WritePhys64(physAddr uint64, value uint64) {
	binary.LittleEndian.PutUint64(m.phys[physAddr:], value)
}

package bootinfo

import (
	"encoding/binary"
	"testing"
	"unsafe"

	"github.com/google/go-cmp/cmp"
)

// encodeInfo builds a boot info block the way the bootloader lays it out.
func encodeInfo(physOffset uint64, entrySize uint32, regions []MemoryRegion) []uint64 {
	// Back the block with a []uint64 so the header and entries are 8-byte aligned.
	raw := make([]uint64, (HeaderSize+len(regions)*int(entrySize))/8+1)
	buf := unsafe.Slice((*byte)(unsafe.Pointer(&raw[0])), len(raw)*8)

	binary.LittleEndian.PutUint64(buf[0:], physOffset)
	binary.LittleEndian.PutUint32(buf[8:], uint32(len(regions)))
	binary.LittleEndian.PutUint32(buf[12:], entrySize)
	for i, r := range regions {
		entry := buf[HeaderSize+i*int(entrySize):]
		binary.LittleEndian.PutUint64(entry[0:], r.PhysAddress)
		binary.LittleEndian.PutUint64(entry[8:], r.Length)
		binary.LittleEndian.PutUint32(entry[16:], uint32(r.Type))
	}

	return raw
}

func TestVisitMemRegions(t *testing.T) {
	regions := []MemoryRegion{
		{PhysAddress: 0x0, Length: 0x1000, Type: RegionFrameZero},
		{PhysAddress: 0x1000, Length: 0x9e000, Type: RegionUsable},
		{PhysAddress: 0x9f000, Length: 0x61000, Type: RegionReserved},
		{PhysAddress: 0x100000, Length: 0x100000, Type: RegionKernel},
		{PhysAddress: 0x200000, Length: 0x600000, Type: RegionUsable},
		{PhysAddress: 0xfffc0000, Length: 0x40000, Type: RegionType(42)},
	}

	for _, entrySize := range []uint32{EntrySize, EntrySize + 8} {
		raw := encodeInfo(0x10000000000, entrySize, regions)
		SetInfoPtr(uintptr(unsafe.Pointer(&raw[0])))

		if exp, got := uintptr(0x10000000000), PhysMemOffset(); got != exp {
			t.Errorf("[entry size %d] expected phys mem offset to be 0x%x; got 0x%x", entrySize, exp, got)
		}

		var visited []MemoryRegion
		VisitMemRegions(func(r *MemoryRegion) bool {
			visited = append(visited, *r)
			return true
		})

		exp := append([]MemoryRegion(nil), regions...)
		exp[5].Type = RegionReserved
		if diff := cmp.Diff(exp, visited); diff != "" {
			t.Errorf("[entry size %d] visited regions mismatch (-want +got):\n%s", entrySize, diff)
		}
	}
}

func TestVisitMemRegionsAbort(t *testing.T) {
	raw := encodeInfo(0, EntrySize, []MemoryRegion{
		{PhysAddress: 0x0, Length: 0x1000, Type: RegionUsable},
		{PhysAddress: 0x1000, Length: 0x1000, Type: RegionUsable},
	})
	SetInfoPtr(uintptr(unsafe.Pointer(&raw[0])))

	var visitCount int
	VisitMemRegions(func(_ *MemoryRegion) bool {
		visitCount++
		return false
	})

	if visitCount != 1 {
		t.Fatalf("expected visitor to be invoked once; got %d", visitCount)
	}
}

func TestRegionTypeText(t *testing.T) {
	for typ := RegionUsable; typ < regionUnknown; typ++ {
		text, _ := typ.MarshalText()

		var got RegionType
		if err := got.UnmarshalText(text); err != nil {
			t.Errorf("[type %d] unexpected error: %v", typ, err)
		} else if got != typ {
			t.Errorf("[type %d] expected %q to decode as %d; got %d", typ, text, typ, got)
		}
	}

	var typ RegionType
	if err := typ.UnmarshalText([]byte("swap")); err != errUnknownRegionType {
		t.Fatalf("expected errUnknownRegionType; got %v", err)
	}

	if got := RegionType(0).String(); got != "unknown" {
		t.Errorf("expected RegionType(0) to be reported as unknown; got %q", got)
	}
}

func TestMemoryRegionEnd(t *testing.T) {
	r := MemoryRegion{PhysAddress: 0x1000, Length: 0x9000}
	if exp, got := uint64(0xa000), r.End(); got != exp {
		t.Fatalf("expected End() to return 0x%x; got 0x%x", exp, got)
	}
}

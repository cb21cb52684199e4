package vmm

import (
	"testing"

	"tutorialos/kernel/mem/pmm"
)

func TestPageMethods(t *testing.T) {
	for pageIndex := uint64(0); pageIndex < 128; pageIndex++ {
		page := Page(pageIndex)

		if exp, got := uintptr(pageIndex<<12), page.Address(); got != exp {
			t.Errorf("expected page (%d, index: %d) call to Address() to return %x; got %x", page, pageIndex, exp, got)
		}
	}
}

func TestPageFromAddress(t *testing.T) {
	specs := []struct {
		input   uintptr
		expPage Page
	}{
		{0, Page(0)},
		{4095, Page(0)},
		{4096, Page(1)},
		{4123, Page(1)},
		{0xb8fff, Page(0xb8)},
	}

	for specIndex, spec := range specs {
		if got := PageFromAddress(spec.input); got != spec.expPage {
			t.Errorf("[spec %d] expected returned page to be %v; got %v", specIndex, spec.expPage, got)
		}
	}
}

func TestPageTableIndices(t *testing.T) {
	specs := []struct {
		virtAddr   uintptr
		expIndices [pageLevels]uintptr
		expOffset  uintptr
	}{
		{0xb8000, [pageLevels]uintptr{0, 0, 0, 184}, 0},
		{0x201008, [pageLevels]uintptr{0, 0, 1, 1}, 8},
		{0x0100_0020_1a10, [pageLevels]uintptr{2, 0, 1, 1}, 0xa10},
		{0x8080604400, [pageLevels]uintptr{1, 2, 3, 4}, 1024},
		{0xffff_ffff_ffff_ffff, [pageLevels]uintptr{511, 511, 511, 511}, 4095},
	}

	for specIndex, spec := range specs {
		if got := PageTableIndices(spec.virtAddr); got != spec.expIndices {
			t.Errorf("[spec %d] expected indices %v; got %v", specIndex, spec.expIndices, got)
		}
		if got := PageOffset(spec.virtAddr); got != spec.expOffset {
			t.Errorf("[spec %d] expected page offset 0x%x; got 0x%x", specIndex, spec.expOffset, got)
		}
	}
}

func TestVirtAddrRoundTrip(t *testing.T) {
	indexValues := []uintptr{0, 1, 2, 255, 256, 510, 511}
	offsets := []uintptr{0, 1, 0x7ff, 0xfff}

	for _, p4 := range indexValues {
		for _, p3 := range indexValues {
			for _, p2 := range indexValues {
				for _, p1 := range indexValues {
					for _, offset := range offsets {
						indices := [pageLevels]uintptr{p4, p3, p2, p1}
						virtAddr := VirtAddrFromIndices(indices, offset)

						if !IsCanonical(virtAddr) {
							t.Fatalf("expected VirtAddrFromIndices(%v, 0x%x) = 0x%x to be canonical", indices, offset, virtAddr)
						}
						if got := PageTableIndices(virtAddr); got != indices {
							t.Fatalf("expected indices %v for 0x%x; got %v", indices, virtAddr, got)
						}
						if got := PageOffset(virtAddr); got != offset {
							t.Fatalf("expected offset 0x%x for 0x%x; got 0x%x", offset, virtAddr, got)
						}
					}
				}
			}
		}
	}
}

func TestVirtAddrSignExtension(t *testing.T) {
	if exp, got := uintptr(0xffff_8000_0000_0000), VirtAddrFromIndices([pageLevels]uintptr{256, 0, 0, 0}, 0); got != exp {
		t.Fatalf("expected upper half address 0x%x; got 0x%x", exp, got)
	}
	if exp, got := uintptr(0x7fff_ffff_f000), VirtAddrFromIndices([pageLevels]uintptr{255, 511, 511, 511}, 0); got != exp {
		t.Fatalf("expected lower half address 0x%x; got 0x%x", exp, got)
	}
}

func TestIsCanonical(t *testing.T) {
	specs := []struct {
		virtAddr uintptr
		exp      bool
	}{
		{0x0, true},
		{0x7fff_ffff_ffff, true},
		{0x8000_0000_0000, false},
		{0xffff_7fff_ffff_ffff, false},
		{0xffff_8000_0000_0000, true},
		{0x0001_0000_0000_0000, false},
	}

	for specIndex, spec := range specs {
		if got := IsCanonical(spec.virtAddr); got != spec.exp {
			t.Errorf("[spec %d] expected IsCanonical(0x%x) to return %t", specIndex, spec.virtAddr, spec.exp)
		}
	}
}

func TestPageTableEntryFlags(t *testing.T) {
	var (
		pte   PageTableEntry
		flag1 = PageTableEntryFlag(1 << 10)
		flag2 = PageTableEntryFlag(1 << 21)
	)

	if !pte.IsUnused() {
		t.Fatal("expected zero entry to be unused")
	}

	if pte.HasAnyFlag(flag1 | flag2) {
		t.Fatalf("expected HasAnyFlags to return false")
	}

	pte.SetFlags(flag1 | flag2)

	if !pte.HasAnyFlag(flag1 | flag2) {
		t.Fatalf("expected HasAnyFlags to return true")
	}

	if !pte.HasFlags(flag1 | flag2) {
		t.Fatalf("expected HasFlags to return true")
	}

	pte.ClearFlags(flag1)

	if !pte.HasAnyFlag(flag1 | flag2) {
		t.Fatalf("expected HasAnyFlags to return true")
	}

	if pte.HasFlags(flag1 | flag2) {
		t.Fatalf("expected HasFlags to return false")
	}

	pte.ClearFlags(flag1 | flag2)

	if pte.HasAnyFlag(flag1 | flag2) {
		t.Fatalf("expected HasAnyFlags to return false")
	}

	if pte.HasFlags(flag1 | flag2) {
		t.Fatalf("expected HasFlags to return false")
	}
}

func TestPageTableEntryFrameEncoding(t *testing.T) {
	var (
		pte       PageTableEntry
		physFrame = pmm.Frame(123)
	)

	pte.SetFlags(FlagPresent | FlagRW | FlagNoExecute)
	pte.SetFrame(physFrame)
	if got := pte.Frame(); got != physFrame {
		t.Fatalf("expected pte.Frame() to return %v; got %v", physFrame, got)
	}

	if exp, got := FlagPresent|FlagRW|FlagNoExecute, pte.Flags(); got != exp {
		t.Fatalf("expected flags 0x%x; got 0x%x", exp, got)
	}

	pte.SetFrame(pmm.Frame(0xb8))
	if exp, got := PageTableEntry(0x80000000000b8003), pte; got != exp {
		t.Fatalf("expected entry 0x%x; got 0x%x", exp, got)
	}
}

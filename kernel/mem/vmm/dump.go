package vmm

import "tutorialos/kernel/kfmt"

// DumpTables prints every used level 4 entry of the hierarchy together with
// the used level 3 entries of the table it points to. Huge level 3 entries
// are printed but not descended into.
func DumpTables(pdt *OffsetPageTable) {
	kfmt.Printf("[vmm] level 4 table at frame 0x%x\n", pdt.Level4Frame().Address())

	l4 := pdt.Level4()
	for l4Index := uintptr(0); l4Index < entriesPerTable; l4Index++ {
		l4Entry := l4.Entry(l4Index)
		if l4Entry.IsUnused() {
			continue
		}

		kfmt.Printf("L4 entry %3d: frame 0x%x, flags 0x%x\n", l4Index, l4Entry.Frame().Address(), uintptr(l4Entry.Flags()))
		if !l4Entry.HasFlags(FlagPresent) {
			continue
		}

		l3 := pdt.tableAt(l4Entry.Frame())
		for l3Index := uintptr(0); l3Index < entriesPerTable; l3Index++ {
			l3Entry := l3.Entry(l3Index)
			if l3Entry.IsUnused() {
				continue
			}

			kfmt.Printf("  L3 entry %3d: frame 0x%x, flags 0x%x\n", l3Index, l3Entry.Frame().Address(), uintptr(l3Entry.Flags()))
		}
	}
}

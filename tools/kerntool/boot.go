package main

import (
	"context"
	"flag"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"tutorialos/internal/bootsim"
	"tutorialos/kernel/kmain"
	"tutorialos/kernel/mem/pmm/allocator"
	"tutorialos/kernel/mem/vmm"
)

// bootCmd implements subcommands.Command for the "boot" command.
type bootCmd struct{}

// Name implements subcommands.Command.Name.
func (*bootCmd) Name() string {
	return "boot"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*bootCmd) Synopsis() string {
	return "run the kernel boot sequence on the simulated machine"
}

// Usage implements subcommands.Command.Usage.
func (*bootCmd) Usage() string {
	return `boot

Runs the same memory subsystem bring-up as the kernel entry point. Memory
stores go through the simulated MMU.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*bootCmd) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*bootCmd) Execute(_ context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	cfg := args[0].(*bootsim.Config)
	sim, err := bootsim.New(*cfg)
	if err != nil {
		logrus.WithError(err).Error("booting machine")
		return subcommands.ExitFailure
	}
	defer func() { _ = sim.Close() }()

	if err := runBoot(sim); err != nil {
		logrus.WithError(err).Error("boot sequence failed")
		return subcommands.ExitFailure
	}

	logrus.WithField("flushes", len(sim.Flushed())).Info("boot sequence completed")
	return subcommands.ExitSuccess
}

// runBoot runs kmain.Boot against sim with a fresh frame allocator.
func runBoot(sim *bootsim.Machine) error {
	var alloc allocator.RegionAllocator
	alloc.Init(sim.VisitMemRegions)

	var pokeErr error

	initPDT := func(physOffset uintptr) vmm.OffsetPageTable {
		return vmm.NewOffsetPageTable(sim.L4Frame(), physOffset, sim.FlushTLBEntry)
	}
	poke := func(virtAddr uintptr, value uint64) {
		physAddr, ok := sim.Lookup(virtAddr)
		if !ok {
			pokeErr = errPageFault{virtAddr}
			return
		}
		logrus.WithFields(logrus.Fields{
			"virt": hexAddr(virtAddr),
			"phys": hexAddr(uintptr(physAddr)),
		}).Debug("store")
		sim.WritePhys64(physAddr, value)
	}

	if err := catchKernelPanic(func() {
		kmain.Boot(sim.BootInfoPtr(), &alloc, initPDT, poke)
	}); err != nil {
		return err
	}
	return pokeErr
}

type errPageFault struct {
	virtAddr uintptr
}

func (e errPageFault) Error() string {
	return "page fault at " + hexAddr(e.virtAddr)
}

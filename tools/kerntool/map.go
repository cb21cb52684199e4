package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"tutorialos/internal/bootsim"
	"tutorialos/kernel/mem/pmm"
	"tutorialos/kernel/mem/vmm"
)

// mapCmd implements subcommands.Command for the "map" command.
type mapCmd struct {
	user     bool
	readOnly bool
	noExec   bool
	dump     bool
}

// Name implements subcommands.Command.Name.
func (*mapCmd) Name() string {
	return "map"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*mapCmd) Synopsis() string {
	return "map a page to a frame and verify the mapping"
}

// Usage implements subcommands.Command.Usage.
func (*mapCmd) Usage() string {
	return `map [flags] <virtual address> <physical address>

Maps the page containing the virtual address to the frame containing the
physical address, allocating page tables from the usable memory regions, and
translates the virtual address again to verify the result.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *mapCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.user, "user", false, "make the page accessible from user mode.")
	f.BoolVar(&c.readOnly, "ro", false, "map the page read-only.")
	f.BoolVar(&c.noExec, "nx", false, "mark the page as non-executable.")
	f.BoolVar(&c.dump, "dump", false, "dump the page tables after mapping.")
}

func (c *mapCmd) flags() vmm.PageTableEntryFlag {
	var flags vmm.PageTableEntryFlag
	if !c.readOnly {
		flags |= vmm.FlagRW
	}
	if c.user {
		flags |= vmm.FlagUserAccessible
	}
	if c.noExec {
		flags |= vmm.FlagNoExecute
	}
	return flags
}

// Execute implements subcommands.Command.Execute.
func (c *mapCmd) Execute(_ context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 2 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	virtAddr, err := parseAddr(f.Arg(0))
	if err != nil {
		logrus.WithError(err).Error("parsing arguments")
		return subcommands.ExitUsageError
	}
	physAddr, err := parseAddr(f.Arg(1))
	if err != nil {
		logrus.WithError(err).Error("parsing arguments")
		return subcommands.ExitUsageError
	}

	cfg := args[0].(*bootsim.Config)
	m, err := bootMachine(cfg)
	if err != nil {
		logrus.WithError(err).Error("booting machine")
		return subcommands.ExitFailure
	}
	defer func() { _ = m.Close() }()

	got, err := mapAndVerify(m, virtAddr, physAddr, c.flags())
	if err != nil {
		logrus.WithError(err).Error("mapping failed")
		return subcommands.ExitFailure
	}

	logrus.WithFields(logrus.Fields{
		"virt":    hexAddr(virtAddr),
		"phys":    hexAddr(got),
		"flushes": len(m.Flushed()),
	}).Info("mapping verified")

	if c.dump {
		vmm.DumpTables(&m.pdt)
	}
	return subcommands.ExitSuccess
}

// mapAndVerify maps the page of virtAddr to the frame of physAddr and returns
// the address virtAddr translates to afterwards.
func mapAndVerify(m *machine, virtAddr, physAddr uintptr, flags vmm.PageTableEntryFlag) (uintptr, error) {
	var mapErr error
	if err := catchKernelPanic(func() {
		mapErr = kernelError(m.pdt.Map(vmm.PageFromAddress(virtAddr), pmm.FrameFromAddress(physAddr), flags, &m.alloc))
	}); err != nil {
		return 0, err
	}
	if mapErr != nil {
		return 0, mapErr
	}

	got, err := m.pdt.Translate(virtAddr)
	if err != nil {
		return 0, kernelError(err)
	}

	if exp := pmm.FrameFromAddress(physAddr).Address() + vmm.PageOffset(virtAddr); got != exp {
		return 0, fmt.Errorf("%#x translates to %#x; expected %#x", virtAddr, got, exp)
	}
	if ref, ok := m.Lookup(virtAddr); !ok || uintptr(ref) != got {
		return 0, fmt.Errorf("%#x: kernel translation %#x disagrees with the MMU walk", virtAddr, got)
	}

	return got, nil
}

package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"tutorialos/internal/bootsim"
	"tutorialos/kernel/mem/vmm"
)

// translateCmd implements subcommands.Command for the "translate" command.
type translateCmd struct{}

// Name implements subcommands.Command.Name.
func (*translateCmd) Name() string {
	return "translate"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*translateCmd) Synopsis() string {
	return "translate virtual addresses using the boot page tables"
}

// Usage implements subcommands.Command.Usage.
func (*translateCmd) Usage() string {
	return `translate <virtual address>...

Addresses may be given in decimal or with a 0x, 0o or 0b prefix. The special
address "physoffset" refers to the physical memory offset of the machine.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*translateCmd) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*translateCmd) Execute(_ context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	cfg := args[0].(*bootsim.Config)
	m, err := bootMachine(cfg)
	if err != nil {
		logrus.WithError(err).Error("booting machine")
		return subcommands.ExitFailure
	}
	defer func() { _ = m.Close() }()

	addrs := make([]uintptr, 0, f.NArg())
	for _, arg := range f.Args() {
		if arg == "physoffset" {
			addrs = append(addrs, m.PhysMemOffset())
			continue
		}

		addr, err := parseAddr(arg)
		if err != nil {
			logrus.WithError(err).Error("parsing arguments")
			return subcommands.ExitUsageError
		}
		addrs = append(addrs, addr)
	}

	for _, t := range translateAddrs(&m.pdt, addrs) {
		entry := logrus.WithField("virt", hexAddr(t.virtAddr))
		if t.err != nil {
			entry.WithError(t.err).Warn("no translation")
			continue
		}
		entry.WithField("phys", hexAddr(t.physAddr)).Info("translated")
	}

	return subcommands.ExitSuccess
}

type translation struct {
	virtAddr uintptr
	physAddr uintptr
	err      error
}

// translateAddrs translates each address, reporting kernel panics as
// per-address errors.
func translateAddrs(pdt *vmm.OffsetPageTable, addrs []uintptr) []translation {
	results := make([]translation, 0, len(addrs))
	for _, virtAddr := range addrs {
		t := translation{virtAddr: virtAddr}
		if err := catchKernelPanic(func() {
			physAddr, kerr := pdt.Translate(virtAddr)
			t.physAddr, t.err = physAddr, kernelError(kerr)
		}); err != nil {
			t.err = err
		}
		results = append(results, t)
	}
	return results
}

func hexAddr(addr uintptr) string {
	return fmt.Sprintf("%#x", addr)
}

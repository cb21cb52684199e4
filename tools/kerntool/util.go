package main

import (
	"fmt"
	"strconv"

	"tutorialos/internal/bootsim"
	"tutorialos/kernel"
	"tutorialos/kernel/mem/pmm/allocator"
	"tutorialos/kernel/mem/vmm"
)

// machine bundles a simulated machine with the kernel's view of it.
type machine struct {
	*bootsim.Machine

	pdt   vmm.OffsetPageTable
	alloc allocator.RegionAllocator
}

// bootMachine starts a simulated machine and attaches the kernel's page
// table accessor and frame allocator to it.
func bootMachine(cfg *bootsim.Config) (*machine, error) {
	sim, err := bootsim.New(*cfg)
	if err != nil {
		return nil, err
	}

	m := &machine{
		Machine: sim,
		pdt:     vmm.NewOffsetPageTable(sim.L4Frame(), sim.PhysMemOffset(), sim.FlushTLBEntry),
	}
	m.alloc.Init(sim.VisitMemRegions)
	return m, nil
}

// parseAddr parses an address given in decimal, hex (0x), octal (0o) or
// binary (0b) notation. Underscores are allowed as digit separators.
func parseAddr(s string) (uintptr, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", s, err)
	}
	return uintptr(v), nil
}

// kernelError converts a *kernel.Error into an error without turning a nil
// pointer into a non-nil interface.
func kernelError(err *kernel.Error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("[%s] %s", err.Module, err.Message)
}

// catchKernelPanic runs fn and converts a kernel panic into an error. Other
// panics are propagated.
func catchKernelPanic(fn func()) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		kerr, ok := r.(*kernel.Error)
		if !ok {
			panic(r)
		}
		err = fmt.Errorf("kernel panic: %w", kernelError(kerr))
	}()

	fn()
	return nil
}

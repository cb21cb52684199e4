package main

import (
	"context"
	"flag"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"tutorialos/internal/bootsim"
	"tutorialos/kernel/mem/pmm"
)

// memmapCmd implements subcommands.Command for the "memmap" command.
type memmapCmd struct {
	allocCount int
}

// Name implements subcommands.Command.Name.
func (*memmapCmd) Name() string {
	return "memmap"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*memmapCmd) Synopsis() string {
	return "print the memory map and allocate frames from it"
}

// Usage implements subcommands.Command.Usage.
func (*memmapCmd) Usage() string {
	return `memmap [-alloc n]

Prints the simulated machine's memory map the way the kernel's frame
allocator sees it and hands out n frames.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (c *memmapCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.allocCount, "alloc", 0, "number of frames to allocate. A negative count allocates until memory runs out.")
}

// Execute implements subcommands.Command.Execute.
func (c *memmapCmd) Execute(_ context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 0 {
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

	m.alloc.PrintMemoryMap()
	logrus.WithField("frames", m.alloc.UsableFrames()).Info("usable frames")

	frames := allocFrames(&m.alloc, c.allocCount)
	for i, frame := range frames {
		logrus.WithFields(logrus.Fields{
			"n":    i,
			"addr": hexAddr(frame.Address()),
		}).Info("allocated frame")
	}
	if c.allocCount < 0 || len(frames) < c.allocCount {
		logrus.WithField("allocated", len(frames)).Warn("out of memory")
	}

	return subcommands.ExitSuccess
}

// allocFrames takes up to n frames from alloc; n < 0 drains it.
func allocFrames(alloc pmm.FrameAllocator, n int) []pmm.Frame {
	var frames []pmm.Frame
	for n < 0 || len(frames) < n {
		frame, err := alloc.AllocFrame()
		if err != nil {
			break
		}
		frames = append(frames, frame)
	}
	return frames
}

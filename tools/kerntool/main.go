// Command kerntool inspects and drives the memory subsystem on the host.
//
// Most subcommands boot a simulated machine (see internal/bootsim) described
// by a TOML profile and run the kernel's own page table and frame allocator
// code against it. The redirects subcommand post-processes kernel images.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"

	"tutorialos/internal/bootsim"
	"tutorialos/kernel/kfmt"
)

var (
	profilePath = flag.String("profile", "", "path to a TOML machine profile. The built-in profile is used if empty.")
	debug       = flag.Bool("debug", false, "enable debug logging.")
)

func main() {
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")

	const simGroup = "simulator"
	subcommands.Register(new(memmapCmd), simGroup)
	subcommands.Register(new(translateCmd), simGroup)
	subcommands.Register(new(mapCmd), simGroup)
	subcommands.Register(new(bootCmd), simGroup)

	const buildGroup = "build"
	subcommands.Register(new(redirectsCmd), buildGroup)

	flag.Parse()

	if *debug {
		logrus.SetLevel(logrus.DebugLevel)
	}

	// Kernel diagnostics end up in the log
	kernelLog := newKernelLogWriter(logrus.StandardLogger())
	kfmt.SetOutputSink(kernelLog)

	cfg, err := loadProfile(*profilePath)
	if err != nil {
		logrus.WithError(err).Fatal("loading machine profile")
	}

	status := subcommands.Execute(context.Background(), &cfg)

	kfmt.SetOutputSink(nil)
	kernelLog.Flush()
	os.Exit(int(status))
}

func loadProfile(path string) (bootsim.Config, error) {
	if path == "" {
		return bootsim.DefaultConfig(), nil
	}

	logrus.WithField("profile", path).Debug("loading machine profile")
	return bootsim.LoadConfig(path)
}

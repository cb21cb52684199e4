package bootsim

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"tutorialos/kernel/hal/bootinfo"
)

// Region is a memory map entry of a machine profile.
type Region struct {
	Start  uint64              `toml:"start"`
	Length uint64              `toml:"length"`
	Type   bootinfo.RegionType `toml:"type"`
}

// Config describes a simulated machine and the way its bootloader set up
// paging before jumping to the kernel.
type Config struct {
	// MemorySize is the amount of simulated physical memory in bytes.
	MemorySize uint64 `toml:"memory_size"`

	// IdentityMap is the end of the physical range [0x1000, IdentityMap)
	// that is identity mapped with 4KiB pages. Zero disables the identity
	// mapping.
	IdentityMap uint64 `toml:"identity_map"`

	// MapPhysicalMemory maps all simulated physical memory at the arena's
	// host address, which then becomes the physical memory offset.
	MapPhysicalMemory bool `toml:"map_physical_memory"`

	// HugePages lists 2MiB aligned virtual addresses that are identity
	// mapped with a single huge level 2 entry each.
	HugePages []uint64 `toml:"huge_pages"`

	// Regions is the firmware memory map. If empty, DefaultRegions is used.
	Regions []Region `toml:"region"`
}

const (
	// DefaultMemorySize is the memory size of the default profile.
	DefaultMemorySize = 8 << 20

	// DefaultIdentityMap is the identity mapped range of the default profile.
	DefaultIdentityMap = 4 << 20
)

// DefaultConfig returns the profile used when no profile file is given. It
// resembles a small PC: VGA text memory at 0xb8000 is identity mapped and
// all physical memory is reachable through the offset mapping.
func DefaultConfig() Config {
	return Config{
		MemorySize:        DefaultMemorySize,
		IdentityMap:       DefaultIdentityMap,
		MapPhysicalMemory: true,
		Regions:           DefaultRegions(DefaultMemorySize),
	}
}

// DefaultRegions returns a PC-like memory map for the given memory size,
// which must be at least 4MiB.
func DefaultRegions(memSize uint64) []Region {
	return []Region{
		{Start: 0x0, Length: 0x1000, Type: bootinfo.RegionFrameZero},
		{Start: 0x1000, Length: 0x3f000, Type: bootinfo.RegionPageTable},
		{Start: 0x40000, Length: 0x1000, Type: bootinfo.RegionBootInfo},
		{Start: 0x41000, Length: 0x5e000, Type: bootinfo.RegionUsable},
		{Start: 0x9f000, Length: 0x61000, Type: bootinfo.RegionReserved},
		{Start: 0x100000, Length: 0x100000, Type: bootinfo.RegionKernel},
		{Start: 0x200000, Length: memSize - 0x200000, Type: bootinfo.RegionUsable},
	}
}

// LoadConfig decodes a TOML machine profile. Keys missing from the profile
// keep the values of DefaultConfig; a profile that sets memory_size but no
// regions gets DefaultRegions for that size.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading profile: %w", err)
	}

	return ParseConfig(string(data))
}

// ParseConfig decodes a TOML machine profile held in memory. See LoadConfig.
func ParseConfig(data string) (Config, error) {
	cfg := DefaultConfig()
	cfg.Regions = nil

	md, err := toml.Decode(data, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("decoding profile: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("decoding profile: unknown key %q", undecoded[0].String())
	}

	if len(cfg.Regions) == 0 {
		cfg.Regions = DefaultRegions(cfg.MemorySize)
	}

	return cfg, nil
}

// validate checks that the memory map is sorted, non-overlapping and
// contained in physical memory, and that the profile reserves room for the
// bootloader's page tables and the boot info block.
func (cfg *Config) validate() error {
	const pageMask = 0xfff

	if cfg.MemorySize < DefaultIdentityMap || cfg.MemorySize&pageMask != 0 {
		return fmt.Errorf("memory size %#x must be page aligned and at least %#x", cfg.MemorySize, DefaultIdentityMap)
	}
	if cfg.IdentityMap > cfg.MemorySize || cfg.IdentityMap&pageMask != 0 {
		return fmt.Errorf("identity map end %#x must be page aligned and within memory", cfg.IdentityMap)
	}

	var (
		prevEnd                     uint64
		haveTables, haveBootInfoRgn bool
	)
	for i, region := range cfg.Regions {
		end := region.Start + region.Length
		switch {
		case region.Length == 0:
			return fmt.Errorf("region %d is empty", i)
		case region.Start < prevEnd:
			return fmt.Errorf("region %d [%#x, %#x) overlaps or is out of order", i, region.Start, end)
		case end > cfg.MemorySize:
			return fmt.Errorf("region %d [%#x, %#x) exceeds memory size %#x", i, region.Start, end, cfg.MemorySize)
		}
		prevEnd = end

		switch region.Type {
		case bootinfo.RegionPageTable:
			haveTables = true
		case bootinfo.RegionBootInfo:
			if region.Start&pageMask != 0 || region.Length < uint64(bootinfo.HeaderSize+len(cfg.Regions)*bootinfo.EntrySize) {
				return fmt.Errorf("boot info region %d is unaligned or too small", i)
			}
			haveBootInfoRgn = true
		}
	}

	if !haveTables {
		return fmt.Errorf("memory map has no %s region", bootinfo.RegionPageTable)
	}
	if !haveBootInfoRgn {
		return fmt.Errorf("memory map has no %s region", bootinfo.RegionBootInfo)
	}

	for _, addr := range cfg.HugePages {
		if addr&(hugePageSize-1) != 0 {
			return fmt.Errorf("huge page address %#x is not 2MiB aligned", addr)
		}
	}

	return nil
}

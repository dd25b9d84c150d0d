package palloc

import (
	"github.com/chronos-systems/vmsim/mem/physmem"
	"github.com/chronos-systems/vmsim/mem/vm"
)

// DefaultIgnoreRegions lists the frames that never enter the free list: the
// kernel half, the second-stage boot loader, and the null page together with
// the kernel page directory.
var DefaultIgnoreRegions = []vm.Region{
	vm.KernelHalf,
	{
		Start: vm.PageRoundDown(vm.KVMBoot2Start),
		End:   vm.PageRoundUp(vm.KVMBoot2End) - 1,
	},
	{Start: 0, End: 2*vm.PageSize - 1},
}

// A Builder can build allocators.
type Builder struct {
	storage *physmem.Storage
	ignore  []vm.Region
}

// MakeBuilder creates a new builder with the default ignore table.
func MakeBuilder() Builder {
	return Builder{
		ignore: DefaultIgnoreRegions,
	}
}

// WithStorage sets the physical memory that holds the free list.
func (b Builder) WithStorage(storage *physmem.Storage) Builder {
	b.storage = storage
	return b
}

// WithIgnoreRegions replaces the regions that are never added to the pool.
func (b Builder) WithIgnoreRegions(regions ...vm.Region) Builder {
	b.ignore = regions
	return b
}

// Build returns a newly created allocator with an empty free list.
func (b Builder) Build(name string) *Allocator {
	if b.storage == nil {
		panic("allocator requires a storage")
	}

	a := new(Allocator)
	a.name = name
	a.storage = b.storage
	a.ignore = append([]vm.Region(nil), b.ignore...)

	return a
}

package vmm

import (
	"github.com/chronos-systems/vmsim/mem/vm"
	"github.com/chronos-systems/vmsim/mem/vm/i386"
	"github.com/chronos-systems/vmsim/mem/vm/share"
)

// A Builder can build managers.
type Builder struct {
	mem           Memory
	frames        FrameAllocator
	cpu           Processor
	paging        vm.Paging
	kernelDir     vm.Dir
	policy        ForkPolicy
	paranoid      bool
	shareCapacity int
}

// MakeBuilder creates a builder with the i386 paging format, the kernel
// directory at its boot address, and the full copy fork policy.
func MakeBuilder() Builder {
	return Builder{
		paging:        i386.New(),
		kernelDir:     vm.Dir(vm.KVMKernelDir),
		policy:        FullCopy,
		shareCapacity: share.DefaultCapacity,
	}
}

// WithMemory sets the physical memory.
func (b Builder) WithMemory(mem Memory) Builder {
	b.mem = mem
	return b
}

// WithFrameAllocator sets where frames for tables and pages come from.
func (b Builder) WithFrameAllocator(frames FrameAllocator) Builder {
	b.frames = frames
	return b
}

// WithProcessor sets the processor whose directory register is switched.
func (b Builder) WithProcessor(cpu Processor) Builder {
	b.cpu = cpu
	return b
}

// WithPaging sets the page table format.
func (b Builder) WithPaging(paging vm.Paging) Builder {
	b.paging = paging
	return b
}

// WithKernelDir sets the frame of the canonical kernel directory.
func (b Builder) WithKernelDir(dir vm.Dir) Builder {
	b.kernelDir = dir
	return b
}

// WithForkPolicy sets how Fork duplicates the user half.
func (b Builder) WithForkPolicy(policy ForkPolicy) Builder {
	b.policy = policy
	return b
}

// WithParanoid makes IsShared cross-check the share flag against the share
// table.
func (b Builder) WithParanoid(paranoid bool) Builder {
	b.paranoid = paranoid
	return b
}

// WithShareCapacity sets the number of frames the share table can track.
func (b Builder) WithShareCapacity(n int) Builder {
	b.shareCapacity = n
	return b
}

// Build creates the manager.
func (b Builder) Build(name string) *Manager {
	b.mustBeComplete()

	m := new(Manager)
	m.name = name
	m.mem = b.mem
	m.frames = b.frames
	m.cpu = b.cpu
	m.paging = b.paging
	m.kernelDir = b.kernelDir
	m.policy = b.policy
	m.paranoid = b.paranoid
	m.shares = share.NewTable(b.shareCapacity)
	m.spaces = make(map[vm.Dir]bool)

	return m
}

func (b Builder) mustBeComplete() {
	switch {
	case b.mem == nil:
		panic("manager requires a memory")
	case b.frames == nil:
		panic("manager requires a frame allocator")
	case b.cpu == nil:
		panic("manager requires a processor")
	case b.paging == nil:
		panic("manager requires a paging format")
	}
}

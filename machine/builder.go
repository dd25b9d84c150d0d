package machine

import (
	"github.com/chronos-systems/vmsim/cpu"
	"github.com/chronos-systems/vmsim/mem/physmem"
	"github.com/chronos-systems/vmsim/mem/vm"
	"github.com/chronos-systems/vmsim/mem/vm/share"
	"github.com/chronos-systems/vmsim/mem/vm/vmm"
	"github.com/chronos-systems/vmsim/sim/hooking"
)

// Limits of the physical memory size.
const (
	MinMemory uint64 = 2 << 20
	MaxMemory        = uint64(vm.UVMKernelStart)
)

// A Builder can build machines.
type Builder struct {
	memory        uint64
	policy        vmm.ForkPolicy
	paranoid      bool
	shareCapacity int
	kernelPages   int
	kernelText    int
	videoMode     uint32
	hooks         []hooking.Hook
}

// MakeBuilder creates a builder for a 64 MiB machine with a four page kernel
// image whose first two pages are text.
func MakeBuilder() Builder {
	return Builder{
		memory:        64 << 20,
		policy:        vmm.FullCopy,
		shareCapacity: share.DefaultCapacity,
		kernelPages:   4,
		kernelText:    2,
		videoMode:     3,
	}
}

// WithMemory sets the size of physical memory in bytes.
func (b Builder) WithMemory(bytes uint64) Builder {
	b.memory = bytes
	return b
}

// WithForkPolicy sets how forked processes get their user memory.
func (b Builder) WithForkPolicy(policy vmm.ForkPolicy) Builder {
	b.policy = policy
	return b
}

// WithParanoid turns on share flag cross checks.
func (b Builder) WithParanoid(paranoid bool) Builder {
	b.paranoid = paranoid
	return b
}

// WithShareCapacity sets the size of the share table.
func (b Builder) WithShareCapacity(n int) Builder {
	b.shareCapacity = n
	return b
}

// WithKernelImage sets how many pages the kernel image has and how many of
// them, counted from the start, are read-only text.
func (b Builder) WithKernelImage(pages, text int) Builder {
	b.kernelPages = pages
	b.kernelText = text
	return b
}

// WithVideoMode sets the video mode the boot loader hands over.
func (b Builder) WithVideoMode(mode uint32) Builder {
	b.videoMode = mode
	return b
}

// WithHook adds a hook to the kernel allocator and memory manager. Hooks are
// attached before the kernel initializes its memory, so they see Init too.
func (b Builder) WithHook(hook hooking.Hook) Builder {
	b.hooks = append(append([]hooking.Hook(nil), b.hooks...), hook)
	return b
}

// Build creates the machine and boots it. A halt during boot is returned as
// an error.
func (b Builder) Build(name string) (*Machine, error) {
	b.mustBeValid()

	m := &Machine{
		name:    name,
		storage: physmem.NewStorage(b.memory),
		cpu:     cpu.New(),
		procs:   make(map[int]*Process),
		nextPID: 1,
	}

	err := vm.RecoverFatal(func() { m.boot(b) })
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (b Builder) mustBeValid() {
	switch {
	case b.memory < MinMemory:
		panic("machine requires at least 2 MiB of memory")
	case b.memory > MaxMemory:
		panic("physical memory overlaps the kernel half")
	case b.kernelPages < 1:
		panic("kernel image requires at least one page")
	case b.kernelText < 0 || b.kernelText > b.kernelPages:
		panic("kernel text does not fit in the kernel image")
	case uint64(b.kernelPages)*vm.PageSize >
		uint64(vm.KVMKernEnd-vm.KVMKernStart)+1:
		panic("kernel image is too large")
	}
}

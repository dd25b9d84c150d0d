package machine

import (
	"github.com/chronos-systems/vmsim/mem/palloc"
	"github.com/chronos-systems/vmsim/mem/vm"
	"github.com/chronos-systems/vmsim/mem/vm/vmm"
)

// Low memory layout reported by the emulated BIOS.
const (
	conventionalEnd = 0x9FC00
	biosAreaStart   = 0xF0000
	extendedStart   = 0x100000
)

// MemoryMap returns the E820 map of a machine with capacity bytes of memory,
// terminated by a zero entry.
func MemoryMap(capacity uint64) []palloc.MemoryMapEntry {
	return []palloc.MemoryMapEntry{
		{Addr: 0, Length: conventionalEnd, Type: palloc.E820Usable},
		{
			Addr:   conventionalEnd,
			Length: 0xA0000 - conventionalEnd,
			Type:   palloc.E820Reserved,
		},
		{
			Addr:   biosAreaStart,
			Length: extendedStart - biosAreaStart,
			Type:   palloc.E820Reserved,
		},
		{
			Addr:   extendedStart,
			Length: capacity - extendedStart,
			Type:   palloc.E820Usable,
		},
		{},
	}
}

// boot plays the second stage boot loader and then the kernel. The loader
// builds the free list from the memory map, sets up the kernel directory
// with the loader identity mapped and the kernel image in place, and leaves
// the free list in the handoff area. The kernel picks it up and finishes the
// memory setup.
func (m *Machine) boot(b Builder) {
	kdir := vm.Dir(vm.KVMKernelDir)

	loader := palloc.MakeBuilder().
		WithStorage(m.storage).
		Build(m.name + ".Boot2")
	loader.Populate(MemoryMap(m.storage.Capacity()))

	if err := m.storage.ZeroPage(vm.Addr(kdir)); err != nil {
		vm.Halt(loader.Name(), "cannot clear the kernel directory: %v", err)
	}

	loaderVM := vmm.MakeBuilder().
		WithMemory(m.storage).
		WithFrameAllocator(loader).
		WithProcessor(m.cpu).
		WithKernelDir(kdir).
		Build(m.name + ".Boot2VM")

	loaderVM.IdentityMap(0, vm.PageRoundUp(vm.KVMBoot2End), kdir,
		vm.KernelDirFlags, vm.KernelTableFlags)

	for i := 0; i < b.kernelPages; i++ {
		va := vm.KVMKernStart + vm.Addr(i)*vm.PageSize
		loaderVM.MapPage(loader.Alloc(), va, kdir,
			vm.KernelDirFlags, vm.KernelTableFlags)
	}

	if b.kernelText > 0 {
		end := vm.KVMKernStart + vm.Addr(b.kernelText)*vm.PageSize
		if err := loaderVM.SetRangeReadOnly(vm.KVMKernStart, end, kdir); err != nil {
			vm.Halt(loader.Name(), "protecting kernel text: %v", err)
		}
	}

	loader.SaveState(b.videoMode)

	m.frames = palloc.MakeBuilder().
		WithStorage(m.storage).
		Build(m.name + ".PAlloc")
	m.frames.RestoreState()

	m.vmm = vmm.MakeBuilder().
		WithMemory(m.storage).
		WithFrameAllocator(m.frames).
		WithProcessor(m.cpu).
		WithKernelDir(kdir).
		WithForkPolicy(b.policy).
		WithParanoid(b.paranoid).
		WithShareCapacity(b.shareCapacity).
		Build(m.name + ".VMM")

	for _, h := range b.hooks {
		m.frames.AcceptHook(h)
		m.vmm.AcceptHook(h)
	}

	m.vmm.Init()
}

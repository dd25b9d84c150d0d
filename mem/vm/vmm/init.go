package vmm

import "github.com/chronos-systems/vmsim/mem/vm"

// Init finishes the kernel side of the memory setup once the kernel owns the
// free list: the null page is unmapped, the kernel stack is mapped, the
// second stage boot loader is returned to the allocator except for its
// first page, the kernel directory is loaded, and the interrupt counter is
// reset.
func (m *Manager) Init() {
	m.UnmapPage(0, m.kernelDir)

	first, count := vm.KernelStack.Pages()
	for i := 0; i < count; i++ {
		va := first + vm.Addr(i)*vm.PageSize
		if m.FindPage(va, false, m.kernelDir, 0, 0) != 0 {
			continue
		}

		m.MapPage(m.frames.Alloc(), va, m.kernelDir,
			vm.KernelDirFlags, vm.KernelTableFlags)
	}

	from := vm.PageRoundDown(vm.KVMBoot2Start) + vm.PageSize
	to := vm.PageRoundUp(vm.KVMBoot2End)
	for pg := from; pg < to; pg += vm.PageSize {
		m.frames.Free(pg)
	}

	m.cpu.EnablePaging(m.kernelDir)
	m.cpu.SetStackPointer(vm.KVMKStackEnd &^ 0xF)
	m.cpu.ResetCLI()
}

package vmm

import "github.com/chronos-systems/vmsim/mem/vm"

// SetSwapStack shows the private kernel stack of other inside the swap stack
// window of dir. The frames still belong to other.
func (m *Manager) SetSwapStack(dir, other vm.Dir) {
	g := m.EnterForeign()
	defer g.Leave()

	m.clearSwapStack(dir)

	first, count := vm.SwapStack.Pages()
	for i := 0; i < count; i++ {
		va := first + vm.Addr(i)*vm.PageSize

		frame := m.findPage(va+vm.SwapDistance, false, other, 0, 0)
		if frame == 0 {
			continue
		}

		m.mapPage(frame, va, dir, vm.KernelDirFlags, vm.KernelTableFlags)
	}
}

// ClearSwapStack empties the swap stack window of dir without freeing
// anything.
func (m *Manager) ClearSwapStack(dir vm.Dir) {
	g := m.EnterForeign()
	defer g.Leave()

	m.clearSwapStack(dir)
}

func (m *Manager) clearSwapStack(dir vm.Dir) {
	first, count := vm.SwapStack.Pages()
	for i := 0; i < count; i++ {
		m.unmapPage(first+vm.Addr(i)*vm.PageSize, dir)
	}
}

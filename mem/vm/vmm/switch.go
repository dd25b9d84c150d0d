package vmm

import (
	"github.com/chronos-systems/vmsim/cpu"
	"github.com/chronos-systems/vmsim/mem/vm"
)

// ForeignGuard remembers what EnterForeign changed.
type ForeignGuard struct {
	m        *Manager
	critical *cpu.CriticalSection
	savedDir vm.Dir
	swapped  bool
	savedSP  vm.Addr
}

// EnterForeign makes the kernel directory active so that the tables of any
// address space can be changed, and disables interrupts until Leave. When
// paging is off nothing is switched.
func (m *Manager) EnterForeign() *ForeignGuard {
	g := &ForeignGuard{m: m}

	if !m.cpu.PagingEnabled() {
		return g
	}

	g.critical = m.cpu.EnterCritical()
	g.savedDir = m.cpu.ActiveDirectory()

	if g.savedDir == m.kernelDir {
		return g
	}

	sp := m.cpu.StackPointer()
	if !vm.KernelStack.Contains(sp) {
		g.swapped = true
		g.savedSP = sp
		m.cpu.SetStackPointer(vm.KVMKStackEnd &^ 0xF)
	}

	m.cpu.LoadDirectory(m.kernelDir)

	return g
}

// Leave restores the directory and stack that were active before
// EnterForeign. Only the first call has an effect.
func (g *ForeignGuard) Leave() {
	if g.critical == nil {
		return
	}

	critical := g.critical
	g.critical = nil
	proc := g.m.cpu

	if g.savedDir != g.m.kernelDir {
		proc.LoadDirectory(g.savedDir)
	}

	if g.swapped {
		proc.SetStackPointer(g.savedSP)
	}

	critical.Release()
}

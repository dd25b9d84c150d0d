package vmm

import (
	"fmt"

	"github.com/chronos-systems/vmsim/mem/vm"
)

// NewAddressSpace creates a directory holding the kernel half and a fresh,
// zeroed private kernel stack. The user half is empty.
func (m *Manager) NewAddressSpace() vm.Dir {
	g := m.EnterForeign()
	defer g.Leave()

	dir := vm.Dir(m.frames.Alloc())
	m.copyKernel(dir)

	first, count := vm.ProcKernelStack.Pages()
	for i := 0; i < count; i++ {
		va := first + vm.Addr(i)*vm.PageSize
		m.mapPage(m.frames.Alloc(), va, dir,
			vm.KernelDirFlags, vm.KernelTableFlags)
	}

	m.track(dir)
	m.invoke(HookPosSpaceCreate, dir, vm.Dir(0))

	return dir
}

// Fork creates a child of parent. The kernel half is inherited, the user
// half is copied or shared according to the fork policy, and the private
// kernel stack is copied.
func (m *Manager) Fork(parent vm.Dir) (vm.Dir, error) {
	g := m.EnterForeign()
	defer g.Leave()

	dir := vm.Dir(m.frames.Alloc())
	m.copyKernel(dir)

	switch m.policy {
	case ShareCOW:
		if err := m.ShareUserSpace(dir, parent); err != nil {
			m.destroy(dir)
			return 0, fmt.Errorf("forking %s: %w", parent, err)
		}
	default:
		m.copyUserSpace(dir, parent)
	}

	m.rebuildKernelStack(dir, parent)

	m.track(dir)
	m.invoke(HookPosSpaceCreate, dir, parent)

	return dir, nil
}

// CopyKernel maps every kernel half page of the kernel directory into dir
// with the same page and table flags. The per-process kernel stack and the
// swap stack window are left out.
func (m *Manager) CopyKernel(dir vm.Dir) {
	g := m.EnterForeign()
	defer g.Leave()

	m.copyKernel(dir)
}

func (m *Manager) copyKernel(dir vm.Dir) {
	first := m.userDirSlots()
	last := m.paging.EntriesPerTable()

	m.eachEntry(m.kernelDir, first, last, func(virt, _ vm.Addr, entry uint32) {
		if vm.IsPerProcess(virt) {
			return
		}

		tbl := m.dirFlags(m.readWord(m.dirSlot(m.kernelDir, virt)))
		m.mapPage(m.paging.EntryFrame(entry), virt, dir,
			tbl, m.tableFlags(entry))
	})
}

// CopyUserSpace gives dst a private copy of every user page of src. The
// copies keep the flags of src except sharing: they are never shared, and a
// copy-on-write page of src is writable in dst.
func (m *Manager) CopyUserSpace(dst, src vm.Dir) {
	g := m.EnterForeign()
	defer g.Leave()

	m.copyUserSpace(dst, src)
}

func (m *Manager) copyUserSpace(dst, src vm.Dir) {
	m.eachEntry(src, 0, m.userDirSlots(), func(virt, _ vm.Addr, entry uint32) {
		tbl := m.dirFlags(m.readWord(m.dirSlot(src, virt)))
		flags := privateFlags(m.tableFlags(entry))

		frame := m.findPage(virt, true, dst, tbl, flags)
		if err := m.mem.CopyPage(frame, m.paging.EntryFrame(entry)); err != nil {
			m.halt("copying %s: %v", virt, err)
		}
	})
}

// RebuildKernelStack replaces the private kernel stack of dst with a copy of
// the one in src. Stale entries in dst are unmapped first and not freed.
func (m *Manager) RebuildKernelStack(dst, src vm.Dir) {
	g := m.EnterForeign()
	defer g.Leave()

	m.rebuildKernelStack(dst, src)
}

func (m *Manager) rebuildKernelStack(dst, src vm.Dir) {
	first, count := vm.ProcKernelStack.Pages()

	for i := 0; i < count; i++ {
		va := first + vm.Addr(i)*vm.PageSize

		m.unmapPage(va, dst)

		from := m.findPage(va, false, src, 0, 0)
		if from == 0 {
			continue
		}

		to := m.findPage(va, true, dst,
			vm.KernelDirFlags, vm.KernelTableFlags)
		if err := m.mem.CopyPage(to, from); err != nil {
			m.halt("copying kernel stack page %s: %v", va, err)
		}
	}
}

// SetUserKernelStack maps the private kernel stack frames of kstack into dir.
// dir does not own them afterwards.
func (m *Manager) SetUserKernelStack(dir, kstack vm.Dir) {
	g := m.EnterForeign()
	defer g.Leave()

	first, count := vm.ProcKernelStack.Pages()

	for i := 0; i < count; i++ {
		va := first + vm.Addr(i)*vm.PageSize

		m.unmapPage(va, dir)

		frame := m.findPage(va, false, kstack, 0, 0)
		if frame == 0 {
			continue
		}

		m.mapPage(frame, va, dir, vm.KernelDirFlags, vm.KernelTableFlags)
	}
}

// FreeUserSpace releases every user page of dir and the tables that held
// them. Private frames are freed. Shared frames lose one reference and are
// freed with the last one.
func (m *Manager) FreeUserSpace(dir vm.Dir) {
	g := m.EnterForeign()
	defer g.Leave()

	m.freeUserSpace(dir)
}

func (m *Manager) freeUserSpace(dir vm.Dir) {
	for d := 0; d < m.userDirSlots(); d++ {
		slot := vm.Addr(dir) + vm.Addr(d*vm.EntrySize)
		if m.readWord(slot) == 0 {
			continue
		}

		m.eachEntry(dir, d, d+1, func(virt, pte vm.Addr, entry uint32) {
			m.writeWord(pte, 0)
			m.releaseFrame(m.paging.EntryFrame(entry), m.tableFlags(entry))
		})

		pde := m.readWord(slot)
		m.writeWord(slot, 0)
		m.frames.Free(m.paging.EntryFrame(pde))
	}
}

func (m *Manager) releaseFrame(frame vm.Addr, flags vm.Flags) {
	if flags.Has(vm.FlagShared) && m.shares.Refs(frame) > 0 {
		if m.UnsharePage(frame) > 0 {
			return
		}
	}

	m.frames.Free(frame)
}

// DestroyAddressSpace releases everything dir owns: the swap stack window is
// cleared, the user half is freed, the private kernel stack is freed, and
// finally every table and the directory itself.
func (m *Manager) DestroyAddressSpace(dir vm.Dir) {
	if dir == m.kernelDir {
		m.halt("destroying the kernel directory")
	}

	g := m.EnterForeign()
	defer g.Leave()

	if g.savedDir == dir {
		m.halt("destroying the active address space %s", dir)
	}

	m.destroy(dir)

	m.untrack(dir)
	m.invoke(HookPosSpaceDestroy, dir, nil)
}

func (m *Manager) destroy(dir vm.Dir) {
	m.clearSwapStack(dir)
	m.freeUserSpace(dir)

	first, count := vm.ProcKernelStack.Pages()
	for i := 0; i < count; i++ {
		frame := m.unmapPage(first+vm.Addr(i)*vm.PageSize, dir)
		if frame != 0 {
			m.frames.Free(frame)
		}
	}

	m.freeDirectory(dir)
}

// privateFlags turns the flags of a shared entry into those of a private
// copy.
func privateFlags(flags vm.Flags) vm.Flags {
	if flags.Has(vm.FlagCopyOnWrite) {
		flags |= vm.FlagWrite
	}

	return flags &^ cowFlags
}

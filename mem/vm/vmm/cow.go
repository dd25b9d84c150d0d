package vmm

import (
	"fmt"

	"github.com/chronos-systems/vmsim/mem/vm"
)

const cowFlags = vm.FlagShared | vm.FlagCopyOnWrite

// MarkCOW turns every private user page of dir into a copy-on-write page with
// one reference. Pages that are already shared are left alone.
func (m *Manager) MarkCOW(dir vm.Dir) error {
	g := m.EnterForeign()
	defer g.Leave()

	return m.markCOW(dir)
}

func (m *Manager) markCOW(dir vm.Dir) error {
	var err error

	m.eachEntry(dir, 0, m.userDirSlots(), func(virt, slot vm.Addr, entry uint32) {
		if err != nil {
			return
		}

		flags := m.tableFlags(entry)
		if flags.Has(vm.FlagShared) {
			return
		}

		frame := m.paging.EntryFrame(entry)
		if _, err = m.shareFrame(frame); err != nil {
			return
		}

		flags = (flags | cowFlags) &^ vm.FlagWrite
		m.writeWord(slot, m.paging.MakeEntry(frame,
			m.paging.EncodeTableFlags(flags)))
	})

	return err
}

// IsCOW reports whether page is mapped copy-on-write in dir.
func (m *Manager) IsCOW(dir vm.Dir, page vm.Addr) bool {
	return m.PageFlags(page, dir).Has(vm.FlagCopyOnWrite)
}

// ShareUserSpace maps every user page of src into dst without copying. Private
// pages of src become copy-on-write first, so both spaces lose the write
// permission until Uncow.
func (m *Manager) ShareUserSpace(dst, src vm.Dir) error {
	g := m.EnterForeign()
	defer g.Leave()

	if err := m.markCOW(src); err != nil {
		return err
	}

	var err error

	m.eachEntry(src, 0, m.userDirSlots(), func(virt, _ vm.Addr, entry uint32) {
		if err != nil {
			return
		}

		frame := m.paging.EntryFrame(entry)
		if _, err = m.shareFrame(frame); err != nil {
			return
		}

		tbl := m.dirFlags(m.readWord(m.dirSlot(src, virt)))
		m.mapPage(frame, virt, dst, tbl, m.tableFlags(entry))
	})

	return err
}

// Uncow gives dir a writable private copy of a copy-on-write page. When no
// other space holds the frame anymore, the entry is made writable in place.
// The shared frame is never freed here; the other holders still map it.
func (m *Manager) Uncow(dir vm.Dir, page vm.Addr) error {
	g := m.EnterForeign()
	defer g.Leave()

	page = vm.PageRoundDown(page)

	_, entry := m.entryOf(page, dir)
	flags := m.tableFlags(entry)
	if !flags.Has(vm.FlagCopyOnWrite) {
		return fmt.Errorf("breaking %s in %s: %w", page, dir, ErrNotCOW)
	}

	old := m.paging.EntryFrame(entry)
	tbl := m.dirFlags(m.readWord(m.dirSlot(dir, page)))
	private := (flags &^ cowFlags) | vm.FlagWrite

	left := m.UnsharePage(old)
	if left <= 0 {
		if err := m.setPageFlags(page, dir, private); err != nil {
			return err
		}

		m.invoke(HookPosCOWBreak, MappingEvent{
			Dir: dir, Virt: page, Frame: old, Flags: private,
		}, old)

		return nil
	}

	frame := m.frames.Alloc()
	if err := m.mem.CopyPage(frame, old); err != nil {
		m.halt("copying %s to %s: %v", old, frame, err)
	}

	m.unmapPage(page, dir)
	m.mapPage(frame, page, dir, tbl, private)

	m.invoke(HookPosCOWBreak, MappingEvent{
		Dir: dir, Virt: page, Frame: frame, Flags: private,
	}, old)

	return nil
}

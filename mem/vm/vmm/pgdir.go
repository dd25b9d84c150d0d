package vmm

import (
	"fmt"

	"github.com/chronos-systems/vmsim/mem/vm"
)

// MapPage maps the frame phys at virt in dir. A missing table is allocated
// with dirFlags. Mapping over an occupied entry halts.
func (m *Manager) MapPage(
	phys, virt vm.Addr,
	dir vm.Dir,
	dirFlags, tblFlags vm.Flags,
) {
	g := m.EnterForeign()
	defer g.Leave()

	m.mapPage(phys, virt, dir, dirFlags, tblFlags)
}

func (m *Manager) mapPage(
	phys, virt vm.Addr,
	dir vm.Dir,
	dirFlags, tblFlags vm.Flags,
) {
	phys = vm.PageRoundDown(phys)
	virt = vm.PageRoundDown(virt)
	tblFlags |= vm.FlagPresent

	slot := m.pte(dir, virt, true, dirFlags|vm.FlagPresent)
	if m.readWord(slot) != 0 {
		m.halt("remap of %s in %s", virt, dir)
	}

	m.writeWord(slot, m.paging.MakeEntry(phys,
		m.paging.EncodeTableFlags(tblFlags)))

	m.invoke(HookPosMap, MappingEvent{
		Dir: dir, Virt: virt, Frame: phys, Flags: tblFlags,
	}, nil)
}

// MapPages allocates and maps fresh frames for every page that overlaps
// [va, va+size).
func (m *Manager) MapPages(
	va vm.Addr,
	size uint32,
	dir vm.Dir,
	dirFlags, tblFlags vm.Flags,
) error {
	start := uint64(vm.PageRoundDown(va))
	end := (uint64(va) + uint64(size) + vm.PageSize - 1) &^ (vm.PageSize - 1)
	if end <= start {
		return fmt.Errorf("mapping %s+%d: %w", va, size, vm.ErrEmptyRange)
	}

	if end > 1<<32 {
		return fmt.Errorf("mapping %s+%d: %w", va, size, vm.ErrRangeOverflow)
	}

	g := m.EnterForeign()
	defer g.Leave()

	for x := start; x < end; x += vm.PageSize {
		m.mapPage(m.frames.Alloc(), vm.Addr(x), dir, dirFlags, tblFlags)
	}

	return nil
}

// IdentityMap maps every page in [start, end) to the frame with the same
// address. The rounded end never exceeds 1<<32, so the range cannot wrap.
func (m *Manager) IdentityMap(
	start, end vm.Addr,
	dir vm.Dir,
	dirFlags, tblFlags vm.Flags,
) {
	g := m.EnterForeign()
	defer g.Leave()

	first := uint64(vm.PageRoundDown(start))
	last := (uint64(end) + vm.PageSize - 1) &^ (vm.PageSize - 1)

	for x := first; x < last; x += vm.PageSize {
		m.mapPage(vm.Addr(x), vm.Addr(x), dir, dirFlags, tblFlags)
	}
}

// UnmapPage clears the entry for virt and returns the frame it held, or 0 if
// nothing was mapped. The frame is not freed.
func (m *Manager) UnmapPage(virt vm.Addr, dir vm.Dir) vm.Addr {
	g := m.EnterForeign()
	defer g.Leave()

	return m.unmapPage(virt, dir)
}

func (m *Manager) unmapPage(virt vm.Addr, dir vm.Dir) vm.Addr {
	virt = vm.PageRoundDown(virt)

	slot := m.pte(dir, virt, false, 0)
	if slot == 0 {
		return 0
	}

	entry := m.readWord(slot)
	if entry == 0 {
		return 0
	}

	m.writeWord(slot, 0)
	frame := m.paging.EntryFrame(entry)

	m.invoke(HookPosUnmap, MappingEvent{
		Dir: dir, Virt: virt, Frame: frame, Flags: m.tableFlags(entry),
	}, nil)

	return frame
}

// FindPage returns the frame mapped at virt, or 0. With create, a missing
// table and a missing page are allocated with the given flags.
func (m *Manager) FindPage(
	virt vm.Addr,
	create bool,
	dir vm.Dir,
	dirFlags, tblFlags vm.Flags,
) vm.Addr {
	g := m.EnterForeign()
	defer g.Leave()

	return m.findPage(virt, create, dir, dirFlags, tblFlags)
}

func (m *Manager) findPage(
	virt vm.Addr,
	create bool,
	dir vm.Dir,
	dirFlags, tblFlags vm.Flags,
) vm.Addr {
	virt = vm.PageRoundDown(virt)

	slot := m.pte(dir, virt, create, dirFlags|vm.FlagPresent)
	if slot == 0 {
		return 0
	}

	entry := m.readWord(slot)
	if entry != 0 {
		return m.paging.EntryFrame(entry)
	}

	if !create {
		return 0
	}

	frame := m.frames.Alloc()
	tblFlags |= vm.FlagPresent
	m.writeWord(slot, m.paging.MakeEntry(frame,
		m.paging.EncodeTableFlags(tblFlags)))

	m.invoke(HookPosMap, MappingEvent{
		Dir: dir, Virt: virt, Frame: frame, Flags: tblFlags,
	}, nil)

	return frame
}

func (m *Manager) entryOf(virt vm.Addr, dir vm.Dir) (slot vm.Addr, entry uint32) {
	slot = m.pte(dir, vm.PageRoundDown(virt), false, 0)
	if slot == 0 {
		return 0, 0
	}

	return slot, m.readWord(slot)
}

// PageFlags returns the flags of the entry mapping virt, or 0 if the page is
// not mapped.
func (m *Manager) PageFlags(virt vm.Addr, dir vm.Dir) vm.Flags {
	g := m.EnterForeign()
	defer g.Leave()

	_, entry := m.entryOf(virt, dir)

	return m.tableFlags(entry)
}

// TableFlags returns the flags of the directory entry covering virt, or 0 if
// there is no table.
func (m *Manager) TableFlags(virt vm.Addr, dir vm.Dir) vm.Flags {
	g := m.EnterForeign()
	defer g.Leave()

	return m.dirFlags(m.readWord(m.dirSlot(dir, virt)))
}

// SetPageFlags replaces the flags of the entry mapping virt. Present is
// always kept.
func (m *Manager) SetPageFlags(virt vm.Addr, dir vm.Dir, flags vm.Flags) error {
	g := m.EnterForeign()
	defer g.Leave()

	return m.setPageFlags(virt, dir, flags)
}

func (m *Manager) setPageFlags(virt vm.Addr, dir vm.Dir, flags vm.Flags) error {
	slot, entry := m.entryOf(virt, dir)
	if entry == 0 {
		return fmt.Errorf("setting flags of %s in %s: %w",
			vm.PageRoundDown(virt), dir, vm.ErrNotMapped)
	}

	m.writeWord(slot, m.paging.MakeEntry(m.paging.EntryFrame(entry),
		m.paging.EncodeTableFlags(flags|vm.FlagPresent)))

	return nil
}

// SetReadOnly clears the write permission of the page mapping virt.
func (m *Manager) SetReadOnly(virt vm.Addr, dir vm.Dir) error {
	g := m.EnterForeign()
	defer g.Leave()

	return m.setReadOnly(virt, dir)
}

func (m *Manager) setReadOnly(virt vm.Addr, dir vm.Dir) error {
	_, entry := m.entryOf(virt, dir)
	if entry == 0 {
		return fmt.Errorf("write protecting %s in %s: %w",
			vm.PageRoundDown(virt), dir, vm.ErrNotMapped)
	}

	return m.setPageFlags(virt, dir, m.tableFlags(entry)&^vm.FlagWrite)
}

// SetRangeReadOnly write protects every page overlapping [start, end). It
// stops at the first page that is not mapped.
func (m *Manager) SetRangeReadOnly(start, end vm.Addr, dir vm.Dir) error {
	g := m.EnterForeign()
	defer g.Leave()

	first := uint64(vm.PageRoundDown(start))
	last := (uint64(end) + vm.PageSize - 1) &^ (vm.PageSize - 1)

	for x := first; x < last; x += vm.PageSize {
		if err := m.setReadOnly(vm.Addr(x), dir); err != nil {
			return err
		}
	}

	return nil
}

// Mapping is one present page table entry.
type Mapping struct {
	Virt       vm.Addr
	Frame      vm.Addr
	Flags      vm.Flags
	TableFlags vm.Flags
}

func (mp Mapping) String() string {
	return fmt.Sprintf("%s -> %s [%s] table [%s]",
		mp.Virt, mp.Frame, mp.Flags, mp.TableFlags)
}

// Mappings lists the entries of dir mapping addresses in [from, to].
func (m *Manager) Mappings(dir vm.Dir, from, to vm.Addr) []Mapping {
	g := m.EnterForeign()
	defer g.Leave()

	var list []Mapping

	first := m.paging.DirIndex(from)
	last := m.paging.DirIndex(to) + 1

	m.eachEntry(dir, first, last, func(virt, _ vm.Addr, entry uint32) {
		if virt < vm.PageRoundDown(from) || virt > to {
			return
		}

		list = append(list, Mapping{
			Virt:       virt,
			Frame:      m.paging.EntryFrame(entry),
			Flags:      m.tableFlags(entry),
			TableFlags: m.dirFlags(m.readWord(m.dirSlot(dir, virt))),
		})
	})

	return list
}

// FreeDirectory frees every table dir points to and the directory frame. The
// pages the tables map are left alone.
func (m *Manager) FreeDirectory(dir vm.Dir) {
	g := m.EnterForeign()
	defer g.Leave()

	m.freeDirectory(dir)
}

func (m *Manager) freeDirectory(dir vm.Dir) {
	n := m.paging.EntriesPerTable()

	for d := 0; d < n; d++ {
		slot := vm.Addr(dir) + vm.Addr(d*vm.EntrySize)

		pde := m.readWord(slot)
		if pde == 0 {
			continue
		}

		m.writeWord(slot, 0)
		m.frames.Free(m.paging.EntryFrame(pde))
	}

	m.frames.Free(vm.Addr(dir))
}

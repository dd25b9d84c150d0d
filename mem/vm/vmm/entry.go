package vmm

import "github.com/chronos-systems/vmsim/mem/vm"

func (m *Manager) readWord(addr vm.Addr) uint32 {
	v, err := m.mem.ReadUint32(addr)
	if err != nil {
		m.halt("reading %s: %v", addr, err)
	}

	return v
}

func (m *Manager) writeWord(addr vm.Addr, v uint32) {
	if err := m.mem.WriteUint32(addr, v); err != nil {
		m.halt("writing %s: %v", addr, err)
	}
}

func (m *Manager) dirSlot(dir vm.Dir, virt vm.Addr) vm.Addr {
	return vm.Addr(dir) + vm.Addr(m.paging.DirIndex(virt)*vm.EntrySize)
}

func (m *Manager) tableSlot(table vm.Addr, virt vm.Addr) vm.Addr {
	return table + vm.Addr(m.paging.TableIndex(virt)*vm.EntrySize)
}

// pte returns the address of the table entry that maps virt. It returns 0 if
// the covering table is missing and create is false.
func (m *Manager) pte(
	dir vm.Dir,
	virt vm.Addr,
	create bool,
	dirFlags vm.Flags,
) vm.Addr {
	slot := m.dirSlot(dir, virt)
	pde := m.readWord(slot)

	if pde == 0 {
		if !create {
			return 0
		}

		table := m.frames.Alloc()
		pde = m.paging.MakeEntry(table,
			m.paging.EncodeDirFlags(dirFlags|vm.FlagPresent))
		m.writeWord(slot, pde)
	} else if create {
		pde = m.widenDirEntry(slot, pde, dirFlags)
	}

	return m.tableSlot(m.paging.EntryFrame(pde), virt)
}

// widenDirEntry adds the user and write permissions a new mapping needs to an
// existing directory entry.
func (m *Manager) widenDirEntry(slot vm.Addr, pde uint32, want vm.Flags) uint32 {
	want &= vm.FlagUser | vm.FlagWrite
	have := m.paging.DecodeDirFlags(m.paging.EntryBits(pde))
	if have.Has(want) {
		return pde
	}

	pde = m.paging.MakeEntry(m.paging.EntryFrame(pde),
		m.paging.EncodeDirFlags(have|want))
	m.writeWord(slot, pde)

	return pde
}

func (m *Manager) tableFlags(entry uint32) vm.Flags {
	if entry == 0 {
		return 0
	}

	return m.paging.DecodeTableFlags(m.paging.EntryBits(entry))
}

func (m *Manager) dirFlags(entry uint32) vm.Flags {
	if entry == 0 {
		return 0
	}

	return m.paging.DecodeDirFlags(m.paging.EntryBits(entry))
}

// userDirSlots is the number of directory slots below the kernel half.
func (m *Manager) userDirSlots() int {
	return m.paging.DirIndex(vm.UVMKernelStart)
}

// eachEntry calls fn for every non-empty table entry of dir whose directory
// slot lies in [first, last). Missing tables are skipped.
func (m *Manager) eachEntry(
	dir vm.Dir,
	first, last int,
	fn func(virt vm.Addr, slot vm.Addr, entry uint32),
) {
	n := m.paging.EntriesPerTable()

	for d := first; d < last; d++ {
		pde := m.readWord(vm.Addr(dir) + vm.Addr(d*vm.EntrySize))
		if pde == 0 {
			continue
		}

		table := m.paging.EntryFrame(pde)
		base := m.paging.DirBase(d)

		for t := 0; t < n; t++ {
			slot := table + vm.Addr(t*vm.EntrySize)
			entry := m.readWord(slot)
			if entry == 0 {
				continue
			}

			fn(base+vm.Addr(t)*vm.PageSize, slot, entry)
		}
	}
}

package vmm

import (
	"errors"
	"fmt"

	"github.com/chronos-systems/vmsim/mem/vm"
)

// ErrNotCOW is returned by Uncow for pages that are not copy-on-write.
var ErrNotCOW = errors.New("page is not copy-on-write")

// SharePage adds a reference to the frame mapped at page in dir and marks the
// entry shared.
func (m *Manager) SharePage(page vm.Addr, dir vm.Dir) error {
	g := m.EnterForeign()
	defer g.Leave()

	return m.sharePage(page, dir)
}

func (m *Manager) sharePage(page vm.Addr, dir vm.Dir) error {
	_, entry := m.entryOf(page, dir)
	if entry == 0 {
		return fmt.Errorf("sharing %s in %s: %w",
			vm.PageRoundDown(page), dir, vm.ErrNotMapped)
	}

	frame := m.paging.EntryFrame(entry)
	if _, err := m.shareFrame(frame); err != nil {
		return err
	}

	flags := m.tableFlags(entry)
	if flags.Has(vm.FlagShared) {
		return nil
	}

	return m.setPageFlags(page, dir, flags|vm.FlagShared)
}

func (m *Manager) shareFrame(frame vm.Addr) (int, error) {
	refs, err := m.shares.Share(frame)
	if err != nil {
		return 0, fmt.Errorf("sharing %s: %w", frame, err)
	}

	m.invoke(HookPosShare, ShareEvent{Frame: frame, Refs: refs}, nil)

	return refs, nil
}

// ShareRange shares every mapped page overlapping [start, end). It stops at
// the first page that is not mapped.
func (m *Manager) ShareRange(start, end vm.Addr, dir vm.Dir) error {
	g := m.EnterForeign()
	defer g.Leave()

	first := uint64(vm.PageRoundDown(start))
	last := (uint64(end) + vm.PageSize - 1) &^ (vm.PageSize - 1)

	for x := first; x < last; x += vm.PageSize {
		if err := m.sharePage(vm.Addr(x), dir); err != nil {
			return err
		}
	}

	return nil
}

// UnsharePage drops one reference to frame and returns how many are left.
// The frame is never freed here.
func (m *Manager) UnsharePage(frame vm.Addr) int {
	left := m.shares.Unshare(frame)

	m.invoke(HookPosUnshare,
		ShareEvent{Frame: vm.PageRoundDown(frame), Refs: left}, nil)

	return left
}

// ShareCount returns the number of references to frame, or 0 if the frame
// is private.
func (m *Manager) ShareCount(frame vm.Addr) int {
	return m.shares.Refs(frame)
}

// IsShared reports whether the entry mapping page is marked shared. In
// paranoid mode a flag that disagrees with the share table halts.
func (m *Manager) IsShared(page vm.Addr, dir vm.Dir) bool {
	g := m.EnterForeign()
	defer g.Leave()

	_, entry := m.entryOf(page, dir)
	if entry == 0 {
		return false
	}

	shared := m.tableFlags(entry).Has(vm.FlagShared)

	if m.paranoid {
		frame := m.paging.EntryFrame(entry)
		refs := m.shares.Refs(frame)
		if shared != (refs > 0) {
			m.halt("share flag of %s in %s is %t but %s has %d references",
				vm.PageRoundDown(page), dir, shared, frame, refs)
		}
	}

	return shared
}

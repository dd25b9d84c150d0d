package vmm

import (
	"fmt"

	"github.com/chronos-systems/vmsim/mem/vm"
)

// StackBounds describes the user stack and heap of one process. StackEnd is
// the lowest mapped stack address and moves down as the stack grows.
type StackBounds struct {
	StackEnd vm.Addr
	HeapEnd  vm.Addr
	Limit    vm.Addr
}

// PageFault is the error a user access returns when the hardware would
// raise a page fault.
type PageFault struct {
	Dir     vm.Dir
	Addr    vm.Addr
	Write   bool
	Present bool
}

func (f *PageFault) Error() string {
	access := "read"
	if f.Write {
		access = "write"
	}

	reason := "not present"
	if f.Present {
		reason = "protection"
	}

	return fmt.Sprintf("page fault: %s of %s in %s (%s)",
		access, f.Addr, f.Dir, reason)
}

// HandleFault services a page fault at addr in dir. A fault just below the
// stack grows the stack, a fault on a copy-on-write page breaks the sharing,
// and anything else is a segmentation fault.
func (m *Manager) HandleFault(dir vm.Dir, addr vm.Addr, stack *StackBounds) error {
	if stack != nil && m.inStackWindow(addr, stack) {
		return m.growStack(dir, addr, stack)
	}

	if m.IsCOW(dir, addr) {
		return m.Uncow(dir, addr)
	}

	return fmt.Errorf("fault at %s in %s: %w", addr, dir, vm.ErrSegfault)
}

func (m *Manager) inStackWindow(addr vm.Addr, stack *StackBounds) bool {
	tolerance := uint64(vm.StackTolerance * vm.PageSize)
	low := uint64(0)
	if uint64(stack.StackEnd) > tolerance {
		low = uint64(stack.StackEnd) - tolerance
	}

	return addr < stack.StackEnd && uint64(addr) >= low
}

func (m *Manager) growStack(dir vm.Dir, addr vm.Addr, stack *StackBounds) error {
	down := vm.PageRoundDown(addr)

	if down <= vm.PageRoundUp(stack.HeapEnd) || down < stack.Limit {
		return fmt.Errorf("growing the stack to %s in %s: %w",
			down, dir, vm.ErrStackOverflow)
	}

	size := uint32(stack.StackEnd - down)
	pages := vm.Pages(size)
	if err := m.MapPages(down, size, dir,
		vm.UserDirFlags, vm.UserTableFlags); err != nil {
		return err
	}

	stack.StackEnd = down

	m.invoke(HookPosStackGrow, MappingEvent{
		Dir: dir, Virt: down, Flags: vm.UserTableFlags | vm.FlagPresent,
	}, int(pages))

	return nil
}

// Load reads n bytes at va the way a user mode instruction would.
func (m *Manager) Load(dir vm.Dir, va vm.Addr, n uint32) ([]byte, error) {
	g := m.EnterForeign()
	defer g.Leave()

	buf := make([]byte, 0, n)

	for uint32(len(buf)) < n {
		at := va + vm.Addr(len(buf))

		frame, err := m.userFrame(dir, at, false)
		if err != nil {
			return buf, err
		}

		chunk := min(n-uint32(len(buf)), vm.PageSize-vm.PageOffset(at))

		data, rerr := m.mem.Read(frame+vm.Addr(vm.PageOffset(at)), uint64(chunk))
		if rerr != nil {
			m.halt("reading %s: %v", at, rerr)
		}

		buf = append(buf, data...)
	}

	return buf, nil
}

// Store writes data at va the way a user mode instruction would. It returns
// how many bytes were written before a fault.
func (m *Manager) Store(dir vm.Dir, va vm.Addr, data []byte) (int, error) {
	g := m.EnterForeign()
	defer g.Leave()

	done := 0
	for done < len(data) {
		at := va + vm.Addr(done)

		frame, err := m.userFrame(dir, at, true)
		if err != nil {
			return done, err
		}

		chunk := min(len(data)-done, int(vm.PageSize-vm.PageOffset(at)))

		werr := m.mem.Write(frame+vm.Addr(vm.PageOffset(at)),
			data[done:done+chunk])
		if werr != nil {
			m.halt("writing %s: %v", at, werr)
		}

		done += chunk
	}

	return done, nil
}

// userFrame checks the permissions a user access at va needs and returns the
// frame behind it.
func (m *Manager) userFrame(dir vm.Dir, va vm.Addr, write bool) (vm.Addr, error) {
	fault := &PageFault{Dir: dir, Addr: va, Write: write}

	pde := m.readWord(m.dirSlot(dir, va))
	_, entry := m.entryOf(va, dir)
	if entry == 0 {
		return 0, fault
	}

	fault.Present = true

	need := vm.FlagPresent | vm.FlagUser
	if write {
		need |= vm.FlagWrite
	}

	if !m.dirFlags(pde).Has(need) || !m.tableFlags(entry).Has(need) {
		return 0, fault
	}

	return m.paging.EntryFrame(entry), nil
}

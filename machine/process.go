package machine

import (
	"encoding/binary"
	"fmt"

	"github.com/chronos-systems/vmsim/mem/vm"
	"github.com/chronos-systems/vmsim/mem/vm/vmm"
)

const (
	userStackTop = vm.UVMKernelStart
	stackLimit   = userStackTop - vm.UVMMinStack

	// MaxArgs is the number of argument slots exec places on the stack.
	MaxArgs = 32

	// returnSlot is the top word of the private kernel stack. It stands in
	// for the saved return value register of the trap frame.
	returnSlot = vm.UVMKStackEnd &^ 3

	bogusReturn = 0xFFFFFFFF
)

// Image is a program. Text is loaded at the user load address and made
// read-only, Data follows on the next page.
type Image struct {
	Text []byte
	Data []byte
}

// Process is the memory side of a process.
type Process struct {
	PID    int
	Parent int
	Name   string
	Dir    vm.Dir

	Entry     vm.Addr
	CodeEnd   vm.Addr
	HeapStart vm.Addr
	SP        vm.Addr
	Stack     vmm.StackBounds
}

// Spawn creates a process with a fresh address space, a one page user stack,
// and img loaded.
func (m *Machine) Spawn(name string, img Image) (int, error) {
	var pid int

	err := m.do(func() error {
		dir := m.vmm.NewAddressSpace()
		p := &Process{PID: m.nextPID, Name: name, Dir: dir}
		p.Stack = vmm.StackBounds{
			StackEnd: userStackTop - vm.PageSize,
			Limit:    stackLimit,
		}

		err := m.vmm.MapPages(p.Stack.StackEnd, vm.PageSize, dir,
			vm.UserDirFlags, vm.UserTableFlags)
		if err == nil {
			err = m.load(p, img)
		}

		if err != nil {
			m.vmm.DestroyAddressSpace(dir)
			return fmt.Errorf("spawning %s: %w", name, err)
		}

		// env, argv, argc, return address
		frame := make([]byte, 16)
		binary.LittleEndian.PutUint32(frame, bogusReturn)
		p.SP = userStackTop - vm.Addr(len(frame))
		m.mustStore(p, p.SP, frame)

		m.procs[p.PID] = p
		m.nextPID++
		pid = p.PID

		return nil
	})

	return pid, err
}

// load maps and fills the text and data of img and resets the heap.
func (m *Machine) load(p *Process, img Image) error {
	p.Entry = vm.UVMLoad
	p.CodeEnd = vm.UVMLoad

	if len(img.Text) > 0 {
		if err := m.loadSegment(p, p.CodeEnd, img.Text); err != nil {
			return err
		}

		end := p.CodeEnd + vm.Addr(len(img.Text))
		if err := m.vmm.SetRangeReadOnly(p.CodeEnd, end, p.Dir); err != nil {
			return err
		}

		p.CodeEnd = vm.PageRoundUp(end)
	}

	if len(img.Data) > 0 {
		if err := m.loadSegment(p, p.CodeEnd, img.Data); err != nil {
			return err
		}

		p.CodeEnd += vm.Addr(len(img.Data))
	}

	p.HeapStart = vm.PageRoundUp(p.CodeEnd)
	p.Stack.HeapEnd = p.HeapStart

	return nil
}

func (m *Machine) loadSegment(p *Process, at vm.Addr, data []byte) error {
	if uint64(at)+uint64(len(data)) > uint64(p.Stack.StackEnd) {
		return fmt.Errorf("image of %d bytes: %w", len(data), ErrHeapFull)
	}

	err := m.vmm.MapPages(at, uint32(len(data)), p.Dir,
		vm.UserDirFlags, vm.UserTableFlags)
	if err != nil {
		return err
	}

	m.mustStore(p, at, data)

	return nil
}

func (m *Machine) mustStore(p *Process, at vm.Addr, data []byte) {
	if _, err := m.vmm.Store(p.Dir, at, data); err != nil {
		vm.Halt(m.name, "writing freshly mapped memory of pid %d: %v",
			p.PID, err)
	}
}

// Fork duplicates pid. The child gets 0 as its return value, the parent
// gets the child's PID.
func (m *Machine) Fork(pid int) (int, error) {
	var childPID int

	err := m.do(func() error {
		parent, err := m.proc(pid)
		if err != nil {
			return err
		}

		dir, err := m.vmm.Fork(parent.Dir)
		if err != nil {
			return err
		}

		child := *parent
		child.PID = m.nextPID
		child.Parent = parent.PID
		child.Dir = dir

		// The child's kernel stack is reached through the swap window of
		// the parent.
		m.vmm.SetSwapStack(parent.Dir, dir)
		m.writeKernelWord(parent.Dir, returnSlot-vm.SwapDistance, 0)
		m.vmm.ClearSwapStack(parent.Dir)

		m.writeKernelWord(parent.Dir, returnSlot, uint32(child.PID))

		m.procs[child.PID] = &child
		m.nextPID++
		childPID = child.PID

		return nil
	})

	return childPID, err
}

// ReturnValue reads the value the last fork left for pid.
func (m *Machine) ReturnValue(pid int) (uint32, error) {
	var v uint32

	err := m.do(func() error {
		p, err := m.proc(pid)
		if err != nil {
			return err
		}

		v = m.readKernelWord(p.Dir, returnSlot)

		return nil
	})

	return v, err
}

// Exec replaces the user memory of pid with img. The arguments are copied
// onto a new user stack built in the swap window before the old memory is
// released.
func (m *Machine) Exec(pid int, name string, img Image, args []string) error {
	return m.do(func() error {
		p, err := m.proc(pid)
		if err != nil {
			return err
		}

		page, sp, err := buildArgStack(args)
		if err != nil {
			return err
		}

		m.vmm.ClearSwapStack(p.Dir)

		stack := m.frames.Alloc()
		m.vmm.MapPage(stack, vm.SVMKStackStart, p.Dir,
			vm.KernelDirFlags, vm.KernelTableFlags)
		m.writeKernel(p.Dir, vm.SVMKStackStart, page)

		m.vmm.FreeUserSpace(p.Dir)

		p.Stack = vmm.StackBounds{
			StackEnd: userStackTop - vm.PageSize,
			Limit:    stackLimit,
		}

		if err := m.load(p, img); err != nil {
			// The old image is gone, so there is nothing to return to.
			m.vmm.ClearSwapStack(p.Dir)
			m.frames.Free(stack)
			m.exit(p)

			return fmt.Errorf("exec %s: %w", name, err)
		}

		m.vmm.MapPage(stack, p.Stack.StackEnd, p.Dir,
			vm.UserDirFlags, vm.UserTableFlags)
		m.vmm.ClearSwapStack(p.Dir)

		p.Name = name
		p.SP = sp

		return nil
	})
}

// buildArgStack lays out args the way a new program finds them: the
// strings at the top, then the argv array, a pointer to it, argc, and a
// return address. It returns the page contents and the user stack pointer.
func buildArgStack(args []string) ([]byte, vm.Addr, error) {
	if len(args) > MaxArgs {
		return nil, 0, fmt.Errorf("%d arguments: %w", len(args), ErrTooManyArgs)
	}

	need := MaxArgs*4 + 12
	for _, a := range args {
		need += len(a) + 1
	}

	if need > vm.PageSize {
		return nil, 0, fmt.Errorf("%d bytes of arguments: %w",
			need, ErrTooManyArgs)
	}

	page := make([]byte, vm.PageSize)
	top := vm.PageSize
	uvm := userStackTop
	ptrs := make([]byte, MaxArgs*4)

	for i, a := range args {
		n := len(a) + 1
		top -= n
		uvm -= vm.Addr(n)
		copy(page[top:], a)
		binary.LittleEndian.PutUint32(ptrs[i*4:], uint32(uvm))
	}

	top -= len(ptrs)
	uvm -= vm.Addr(len(ptrs))
	copy(page[top:], ptrs)
	argv := uvm

	for _, w := range []uint32{uint32(argv), uint32(len(args)), bogusReturn} {
		top -= 4
		uvm -= 4
		binary.LittleEndian.PutUint32(page[top:], w)
	}

	return page, uvm, nil
}

// Exit destroys the address space of pid.
func (m *Machine) Exit(pid int) error {
	return m.do(func() error {
		p, err := m.proc(pid)
		if err != nil {
			return err
		}

		m.exit(p)

		return nil
	})
}

func (m *Machine) exit(p *Process) {
	if m.current == p.PID {
		m.switchTo(nil)
	}

	m.vmm.DestroyAddressSpace(p.Dir)
	delete(m.procs, p.PID)
}

// Switch makes pid the running process: its directory is loaded and the
// stack pointer moves to its user stack. PID 0 switches back to the kernel.
func (m *Machine) Switch(pid int) error {
	return m.do(func() error {
		if pid == 0 {
			m.switchTo(nil)
			return nil
		}

		p, err := m.proc(pid)
		if err != nil {
			return err
		}

		m.switchTo(p)

		return nil
	})
}

func (m *Machine) switchTo(p *Process) {
	if p == nil {
		m.cpu.LoadDirectory(m.vmm.KernelDir())
		m.cpu.SetStackPointer(vm.KVMKStackEnd &^ 0xF)
		m.current = 0

		return
	}

	m.cpu.LoadDirectory(p.Dir)
	m.cpu.SetStackPointer(p.SP)
	m.current = p.PID
}

// Current returns the running process, or 0 for the kernel.
func (m *Machine) Current() int {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.current
}

// Sbrk grows the heap of pid by inc bytes and returns the old heap end.
func (m *Machine) Sbrk(pid int, inc uint32) (vm.Addr, error) {
	var old vm.Addr

	err := m.do(func() error {
		p, err := m.proc(pid)
		if err != nil {
			return err
		}

		old = p.Stack.HeapEnd
		end := uint64(old) + uint64(inc)
		top := (end + vm.PageSize - 1) &^ (vm.PageSize - 1)

		if top >= uint64(p.Stack.StackEnd) {
			return fmt.Errorf("sbrk(%d) in pid %d: %w", inc, pid, ErrHeapFull)
		}

		from := vm.PageRoundUp(old)
		if uint64(from) < top {
			err := m.vmm.MapPages(from, uint32(top-uint64(from)), p.Dir,
				vm.UserDirFlags, vm.UserTableFlags)
			if err != nil {
				return err
			}
		}

		p.Stack.HeapEnd = vm.Addr(end)

		return nil
	})

	return old, err
}

func (m *Machine) kernelFrame(dir vm.Dir, va vm.Addr) vm.Addr {
	frame := m.vmm.FindPage(va, false, dir, 0, 0)
	if frame == 0 {
		vm.Halt(m.name, "kernel address %s is not mapped in %s", va, dir)
	}

	return frame + vm.Addr(vm.PageOffset(va))
}

func (m *Machine) writeKernel(dir vm.Dir, va vm.Addr, data []byte) {
	if err := m.storage.Write(m.kernelFrame(dir, va), data); err != nil {
		vm.Halt(m.name, "writing %s: %v", va, err)
	}
}

func (m *Machine) writeKernelWord(dir vm.Dir, va vm.Addr, v uint32) {
	if err := m.storage.WriteUint32(m.kernelFrame(dir, va), v); err != nil {
		vm.Halt(m.name, "writing %s: %v", va, err)
	}
}

func (m *Machine) readKernelWord(dir vm.Dir, va vm.Addr) uint32 {
	v, err := m.storage.ReadUint32(m.kernelFrame(dir, va))
	if err != nil {
		vm.Halt(m.name, "reading %s: %v", va, err)
	}

	return v
}

// Package machine assembles a simulated machine around the memory manager:
// physical memory, a processor, the boot loader handoff, and the minimal
// process records needed to fork, exec, and exit.
package machine

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/chronos-systems/vmsim/cpu"
	"github.com/chronos-systems/vmsim/mem/palloc"
	"github.com/chronos-systems/vmsim/mem/physmem"
	"github.com/chronos-systems/vmsim/mem/vm"
	"github.com/chronos-systems/vmsim/mem/vm/share"
	"github.com/chronos-systems/vmsim/mem/vm/vmm"
)

// Errors returned by machine operations.
var (
	ErrHalted      = errors.New("machine is halted")
	ErrNoProcess   = errors.New("no such process")
	ErrTooManyArgs = errors.New("too many arguments")
	ErrHeapFull    = errors.New("heap would run into the stack")
)

// Machine is a booted machine. All methods may be called from any goroutine.
type Machine struct {
	lock sync.Mutex

	name    string
	storage *physmem.Storage
	cpu     *cpu.CPU
	frames  *palloc.Allocator
	vmm     *vmm.Manager

	procs   map[int]*Process
	nextPID int
	current int
	halted  error
}

// Name returns the name of the machine.
func (m *Machine) Name() string {
	return m.name
}

// Storage returns the physical memory.
func (m *Machine) Storage() *physmem.Storage {
	return m.storage
}

// CPU returns the processor.
func (m *Machine) CPU() *cpu.CPU {
	return m.cpu
}

// Frames returns the kernel frame allocator.
func (m *Machine) Frames() *palloc.Allocator {
	return m.frames
}

// VMM returns the memory manager. Callers that use it directly must not run
// concurrently with machine operations.
func (m *Machine) VMM() *vmm.Manager {
	return m.vmm
}

// Halted returns the fatal error that stopped the machine, or nil.
func (m *Machine) Halted() error {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.halted
}

// do runs fn with the machine locked. A halt inside fn stops the machine for
// good and is returned as an error.
func (m *Machine) do(fn func() error) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.halted != nil {
		return fmt.Errorf("%w: %v", ErrHalted, m.halted)
	}

	var opErr error

	fatal := vm.RecoverFatal(func() { opErr = fn() })
	if fatal != nil {
		m.halted = fatal
		return fatal
	}

	return opErr
}

// Stats is a summary of the memory state.
type Stats struct {
	FreeFrames  int
	StartFrames int
	Spaces      int
	Shares      int
	Processes   int
	Policy      vmm.ForkPolicy
}

// Stats returns a summary of the memory state.
func (m *Machine) Stats() Stats {
	m.lock.Lock()
	defer m.lock.Unlock()

	return Stats{
		FreeFrames:  m.frames.FreeCount(),
		StartFrames: m.frames.StartCount(),
		Spaces:      len(m.vmm.Spaces()),
		Shares:      len(m.vmm.Shares()),
		Processes:   len(m.procs),
		Policy:      m.vmm.Policy(),
	}
}

// KernelDir returns the kernel page directory.
func (m *Machine) KernelDir() vm.Dir {
	return m.vmm.KernelDir()
}

// Policy returns the fork policy.
func (m *Machine) Policy() vmm.ForkPolicy {
	return m.vmm.Policy()
}

// Spaces returns the live address spaces.
func (m *Machine) Spaces() []vm.Dir {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.vmm.Spaces()
}

// Shares returns the share table records.
func (m *Machine) Shares() []share.Record {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.vmm.Shares()
}

// Mappings lists the mappings of dir in [from, to].
func (m *Machine) Mappings(dir vm.Dir, from, to vm.Addr) []vmm.Mapping {
	var list []vmm.Mapping

	_ = m.do(func() error {
		list = m.vmm.Mappings(dir, from, to)
		return nil
	})

	return list
}

// FreeCount returns the number of free frames.
func (m *Machine) FreeCount() int {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.frames.FreeCount()
}

// StartCount returns the number of frames the pool started with.
func (m *Machine) StartCount() int {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.frames.StartCount()
}

// CheckFreeList walks the free list and reports the first corrupt node.
func (m *Machine) CheckFreeList() error {
	m.lock.Lock()
	defer m.lock.Unlock()

	return m.frames.Check()
}

// Processes returns the live processes ordered by PID.
func (m *Machine) Processes() []Process {
	m.lock.Lock()
	defer m.lock.Unlock()

	list := make([]Process, 0, len(m.procs))
	for _, p := range m.procs {
		list = append(list, *p)
	}

	sort.Slice(list, func(i, j int) bool { return list[i].PID < list[j].PID })

	return list
}

// Process returns a copy of the record of pid.
func (m *Machine) Process(pid int) (Process, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	p, ok := m.procs[pid]
	if !ok {
		return Process{}, fmt.Errorf("pid %d: %w", pid, ErrNoProcess)
	}

	return *p, nil
}

func (m *Machine) proc(pid int) (*Process, error) {
	p, ok := m.procs[pid]
	if !ok {
		return nil, fmt.Errorf("pid %d: %w", pid, ErrNoProcess)
	}

	return p, nil
}

// Package vmm is the virtual memory manager. It builds and changes the two
// level page tables of every address space, keeps the share table in sync
// with the shared and copy-on-write entries, and moves bytes between
// address spaces.
//
// Every operation takes the address space it works on explicitly and may be
// called while any address space is active.
package vmm

import (
	"sort"
	"sync"

	"github.com/chronos-systems/vmsim/cpu"
	"github.com/chronos-systems/vmsim/mem/vm"
	"github.com/chronos-systems/vmsim/mem/vm/share"
	"github.com/chronos-systems/vmsim/sim/hooking"
)

// FrameAllocator hands out and takes back physical frames.
type FrameAllocator interface {
	Alloc() vm.Addr
	Free(frame vm.Addr)
}

// Memory is the physical memory the page tables live in.
type Memory interface {
	Read(addr vm.Addr, length uint64) ([]byte, error)
	Write(addr vm.Addr, data []byte) error
	ReadUint32(addr vm.Addr) (uint32, error)
	WriteUint32(addr vm.Addr, value uint32) error
	ZeroPage(addr vm.Addr) error
	CopyPage(dst, src vm.Addr) error
}

// Processor is the part of the CPU state that address space switches touch.
type Processor interface {
	PagingEnabled() bool
	EnablePaging(dir vm.Dir)
	ActiveDirectory() vm.Dir
	LoadDirectory(dir vm.Dir)
	StackPointer() vm.Addr
	SetStackPointer(sp vm.Addr)
	EnterCritical() *cpu.CriticalSection
	ResetCLI()
}

// Manager is the virtual memory manager of one machine.
type Manager struct {
	hooking.HookableBase

	name      string
	mem       Memory
	frames    FrameAllocator
	cpu       Processor
	paging    vm.Paging
	kernelDir vm.Dir
	policy    ForkPolicy
	paranoid  bool
	shares    *share.Table

	spacesLock sync.Mutex
	spaces     map[vm.Dir]bool
}

// Name returns the name of the manager.
func (m *Manager) Name() string {
	return m.name
}

// KernelDir returns the canonical kernel page directory.
func (m *Manager) KernelDir() vm.Dir {
	return m.kernelDir
}

// Policy returns the policy Fork uses for the user half.
func (m *Manager) Policy() ForkPolicy {
	return m.policy
}

// Paging returns the page table format.
func (m *Manager) Paging() vm.Paging {
	return m.paging
}

// Shares returns a snapshot of the share table.
func (m *Manager) Shares() []share.Record {
	return m.shares.Records()
}

// Spaces lists the address spaces created and not yet destroyed.
func (m *Manager) Spaces() []vm.Dir {
	m.spacesLock.Lock()
	defer m.spacesLock.Unlock()

	dirs := make([]vm.Dir, 0, len(m.spaces))
	for d := range m.spaces {
		dirs = append(dirs, d)
	}

	sort.Slice(dirs, func(i, j int) bool { return dirs[i] < dirs[j] })

	return dirs
}

func (m *Manager) track(dir vm.Dir) {
	m.spacesLock.Lock()
	defer m.spacesLock.Unlock()

	m.spaces[dir] = true
}

func (m *Manager) untrack(dir vm.Dir) {
	m.spacesLock.Lock()
	defer m.spacesLock.Unlock()

	delete(m.spaces, dir)
}

func (m *Manager) halt(format string, args ...interface{}) {
	vm.Halt(m.name, format, args...)
}

func (m *Manager) invoke(pos *hooking.HookPos, item, detail interface{}) {
	if m.NumHooks() == 0 {
		return
	}

	m.InvokeHook(hooking.HookCtx{
		Domain: m,
		Pos:    pos,
		Item:   item,
		Detail: detail,
	})
}

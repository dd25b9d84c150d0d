// Package cpu models the processor state that the virtual memory manager
// reads and changes: the paging bit, the active page directory, the nested
// interrupt-disable counter, and the stack pointer.
package cpu

import (
	"sync"

	"github.com/chronos-systems/vmsim/mem/vm"
)

// CPU is a single logical processor.
type CPU struct {
	sync.Mutex

	paging     bool
	dir        vm.Dir
	interrupts bool
	cliCount   int
	sp         vm.Addr
}

// New creates a processor the way the boot loader hands it over: paging
// off, interrupts disabled.
func New() *CPU {
	return &CPU{}
}

// EnablePaging loads dir and turns paging on.
func (c *CPU) EnablePaging(dir vm.Dir) {
	c.Lock()
	defer c.Unlock()

	c.dir = dir
	c.paging = true
}

// DisablePaging turns paging off. The directory register keeps its value.
func (c *CPU) DisablePaging() {
	c.Lock()
	defer c.Unlock()

	c.paging = false
}

// PagingEnabled reports whether the paging bit is set.
func (c *CPU) PagingEnabled() bool {
	c.Lock()
	defer c.Unlock()

	return c.paging
}

// LoadDirectory writes the directory register.
func (c *CPU) LoadDirectory(dir vm.Dir) {
	c.Lock()
	defer c.Unlock()

	c.dir = dir
}

// ActiveDirectory reads the directory register.
func (c *CPU) ActiveDirectory() vm.Dir {
	c.Lock()
	defer c.Unlock()

	return c.dir
}

// StackPointer returns the current stack pointer.
func (c *CPU) StackPointer() vm.Addr {
	c.Lock()
	defer c.Unlock()

	return c.sp
}

// SetStackPointer moves the stack pointer.
func (c *CPU) SetStackPointer(sp vm.Addr) {
	c.Lock()
	defer c.Unlock()

	c.sp = sp
}

// EnableInterrupts sets the interrupt flag directly.
func (c *CPU) EnableInterrupts() {
	c.Lock()
	defer c.Unlock()

	c.interrupts = true
}

// DisableInterrupts clears the interrupt flag directly.
func (c *CPU) DisableInterrupts() {
	c.Lock()
	defer c.Unlock()

	c.interrupts = false
}

// InterruptsEnabled reports the interrupt flag.
func (c *CPU) InterruptsEnabled() bool {
	c.Lock()
	defer c.Unlock()

	return c.interrupts
}

// PushCLI disables interrupts and increments the nesting counter. If
// interrupts were already off before the first push, counting starts at one
// so the matching PopCLI leaves them off.
func (c *CPU) PushCLI() {
	c.Lock()
	defer c.Unlock()

	if c.cliCount == 0 && !c.interrupts {
		c.cliCount = 1
	}

	if c.cliCount < 0 {
		c.cliCount = 0
	}

	c.cliCount++
	c.interrupts = false
}

// PopCLI decrements the nesting counter and enables interrupts once it
// drops below one.
func (c *CPU) PopCLI() {
	c.Lock()
	defer c.Unlock()

	c.cliCount--
	if c.cliCount < 1 {
		c.cliCount = 0
		c.interrupts = true
	}
}

// ResetCLI forgets every outstanding push.
func (c *CPU) ResetCLI() {
	c.Lock()
	defer c.Unlock()

	c.cliCount = 0
}

// CLIDepth returns the nesting counter.
func (c *CPU) CLIDepth() int {
	c.Lock()
	defer c.Unlock()

	return c.cliCount
}

// CriticalSection is the token returned by EnterCritical.
type CriticalSection struct {
	cpu      *CPU
	released bool
}

// EnterCritical pushes the interrupt-disable counter and returns a token
// whose Release pops it.
func (c *CPU) EnterCritical() *CriticalSection {
	c.PushCLI()

	return &CriticalSection{cpu: c}
}

// Release pops the counter. Only the first call has an effect.
func (s *CriticalSection) Release() {
	if s.released {
		return
	}

	s.released = true
	s.cpu.PopCLI()
}

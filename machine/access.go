package machine

import (
	"errors"

	"github.com/chronos-systems/vmsim/mem/vm"
	"github.com/chronos-systems/vmsim/mem/vm/vmm"
)

// Write stores data at va in the user memory of pid. Page faults are
// serviced and the access retried, so the stack grows and copy-on-write
// pages are broken on demand. It returns how many bytes were written.
func (m *Machine) Write(pid int, va vm.Addr, data []byte) (int, error) {
	var done int

	err := m.do(func() error {
		p, err := m.proc(pid)
		if err != nil {
			return err
		}

		return m.retry(p, func() error {
			n, err := m.vmm.Store(p.Dir, va+vm.Addr(done), data[done:])
			done += n

			return err
		})
	})

	return done, err
}

// Read loads n bytes at va from the user memory of pid, servicing page
// faults on the way.
func (m *Machine) Read(pid int, va vm.Addr, n uint32) ([]byte, error) {
	var buf []byte

	err := m.do(func() error {
		p, err := m.proc(pid)
		if err != nil {
			return err
		}

		return m.retry(p, func() error {
			at := va + vm.Addr(len(buf))
			data, err := m.vmm.Load(p.Dir, at, n-uint32(len(buf)))
			buf = append(buf, data...)

			return err
		})
	})

	return buf, err
}

// retry runs access until it succeeds. A page fault is handed to the fault
// handler. A second fault at the same address, or a fault the handler
// refuses, ends the access.
func (m *Machine) retry(p *Process, access func() error) error {
	var last *vmm.PageFault

	for {
		err := access()
		if err == nil {
			return nil
		}

		var fault *vmm.PageFault
		if !errors.As(err, &fault) {
			return err
		}

		if last != nil && last.Addr == fault.Addr {
			return err
		}

		if herr := m.vmm.HandleFault(p.Dir, fault.Addr, &p.Stack); herr != nil {
			return herr
		}

		last = fault
	}
}

// Copy moves n bytes from src in the memory of srcPID to dst in the memory
// of dstPID. Missing destination pages are created. It returns how many
// bytes were copied; the copy stops at the first missing source page.
func (m *Machine) Copy(
	dstPID int, dst vm.Addr,
	srcPID int, src vm.Addr,
	n uint32,
) (uint32, error) {
	var moved uint32

	err := m.do(func() error {
		to, err := m.proc(dstPID)
		if err != nil {
			return err
		}

		from, err := m.proc(srcPID)
		if err != nil {
			return err
		}

		moved = m.vmm.MoveBytes(dst, to.Dir, src, from.Dir, n,
			vm.UserDirFlags, vm.UserTableFlags)

		return nil
	})

	return moved, err
}

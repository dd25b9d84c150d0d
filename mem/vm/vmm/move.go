package vmm

import "github.com/chronos-systems/vmsim/mem/vm"

// MoveBytes copies n bytes from src in srcDir to dst in dstDir and returns
// how many were copied. A source page that is not mapped stops the copy. A
// destination page that is not mapped is created with the given flags, and a
// copy-on-write destination page is broken before it is written. When
// both addresses are in the same space, overlapping ranges are handled the
// same way memmove handles them.
func (m *Manager) MoveBytes(
	dst vm.Addr, dstDir vm.Dir,
	src vm.Addr, srcDir vm.Dir,
	n uint32,
	dirFlags, tblFlags vm.Flags,
) uint32 {
	if n == 0 {
		return 0
	}

	g := m.EnterForeign()
	defer g.Leave()

	if dstDir == srcDir {
		buf := m.gather(src, srcDir, n)
		return m.scatter(dst, dstDir, buf, dirFlags, tblFlags)
	}

	var moved uint32
	for moved < n {
		s := src + vm.Addr(moved)
		d := dst + vm.Addr(moved)

		from := m.findPage(s, false, srcDir, 0, 0)
		if from == 0 {
			break
		}

		to := m.writableFrame(d, dstDir, dirFlags, tblFlags)

		chunk := min(n-moved,
			vm.PageSize-vm.PageOffset(s),
			vm.PageSize-vm.PageOffset(d))

		m.copyPhysical(to+vm.Addr(vm.PageOffset(d)),
			from+vm.Addr(vm.PageOffset(s)), chunk)

		moved += chunk
	}

	return moved
}

// writableFrame returns the frame behind va in dir, creating the page if it
// is missing. A copy-on-write page gets its private frame first.
func (m *Manager) writableFrame(
	va vm.Addr,
	dir vm.Dir,
	dirFlags, tblFlags vm.Flags,
) vm.Addr {
	frame := m.findPage(va, true, dir, dirFlags, tblFlags)

	_, entry := m.entryOf(va, dir)
	if !m.tableFlags(entry).Has(vm.FlagCopyOnWrite) {
		return frame
	}

	if err := m.Uncow(dir, va); err != nil {
		m.halt("breaking %s in %s: %v", va, dir, err)
	}

	return m.findPage(va, false, dir, 0, 0)
}

func (m *Manager) copyPhysical(dst, src vm.Addr, n uint32) {
	data, err := m.mem.Read(src, uint64(n))
	if err == nil {
		err = m.mem.Write(dst, data)
	}

	if err != nil {
		m.halt("copying %d bytes from %s to %s: %v", n, src, dst, err)
	}
}

// gather reads up to n bytes starting at va, stopping at the first page that
// is not mapped.
func (m *Manager) gather(va vm.Addr, dir vm.Dir, n uint32) []byte {
	buf := make([]byte, 0, n)

	for uint32(len(buf)) < n {
		at := va + vm.Addr(len(buf))

		frame := m.findPage(at, false, dir, 0, 0)
		if frame == 0 {
			break
		}

		chunk := min(n-uint32(len(buf)), vm.PageSize-vm.PageOffset(at))

		data, err := m.mem.Read(frame+vm.Addr(vm.PageOffset(at)), uint64(chunk))
		if err != nil {
			m.halt("reading %s: %v", at, err)
		}

		buf = append(buf, data...)
	}

	return buf
}

// scatter writes data starting at va, creating missing pages.
func (m *Manager) scatter(
	va vm.Addr,
	dir vm.Dir,
	data []byte,
	dirFlags, tblFlags vm.Flags,
) uint32 {
	var done uint32
	n := uint32(len(data))

	for done < n {
		at := va + vm.Addr(done)
		frame := m.writableFrame(at, dir, dirFlags, tblFlags)

		chunk := min(n-done, vm.PageSize-vm.PageOffset(at))

		err := m.mem.Write(frame+vm.Addr(vm.PageOffset(at)),
			data[done:done+chunk])
		if err != nil {
			m.halt("writing %s: %v", at, err)
		}

		done += chunk
	}

	return done
}

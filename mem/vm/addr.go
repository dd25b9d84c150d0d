// Package vm provides the architecture-independent vocabulary of the virtual
// memory manager: addresses, page arithmetic, portable mapping flags, the
// memory layout, and the interface every paging format implements.
package vm

import "fmt"

// Addr is a 32-bit virtual or physical address.
type Addr uint32

// Dir is the physical address of a page directory. It is the handle of an
// address space.
type Dir Addr

const (
	// PageShift is the number of bits in a page offset.
	PageShift = 12

	// PageSize is the size of a page and of a physical frame.
	PageSize = 1 << PageShift

	// EntrySize is the size of one directory or table entry in bytes.
	EntrySize = 4

	// MaxAddr is the highest addressable byte.
	MaxAddr Addr = 0xFFFFFFFF
)

// PageRoundDown aligns a down to the start of its page.
func PageRoundDown(a Addr) Addr {
	return a &^ (PageSize - 1)
}

// PageRoundUp aligns a up to the next page boundary. Addresses in the last
// page of the address space wrap to zero, the same as the hardware would.
func PageRoundUp(a Addr) Addr {
	return (a + PageSize - 1) &^ (PageSize - 1)
}

// PageOffset returns the offset of a inside its page.
func PageOffset(a Addr) uint32 {
	return uint32(a & (PageSize - 1))
}

// IsPageAligned reports whether a is the first byte of a page.
func IsPageAligned(a Addr) bool {
	return PageOffset(a) == 0
}

// Pages returns the number of pages needed to hold size bytes.
func Pages(size uint32) uint32 {
	return (size + PageSize - 1) / PageSize
}

func (a Addr) String() string {
	return fmt.Sprintf("0x%08x", uint32(a))
}

func (d Dir) String() string {
	return fmt.Sprintf("pgdir@0x%08x", uint32(d))
}

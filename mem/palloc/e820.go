package palloc

import "github.com/chronos-systems/vmsim/mem/vm"

// Memory map entry types reported by the BIOS.
const (
	E820Usable   uint32 = 0x01
	E820Reserved uint32 = 0x02
	E820ACPIRec  uint32 = 0x03
	E820ACPINVS  uint32 = 0x04
	E820Corrupt  uint32 = 0x05
)

// A MemoryMapEntry is one region of the BIOS memory map.
type MemoryMapEntry struct {
	Addr   uint64
	Length uint64
	Type   uint32
}

// Populate folds a memory map into the free list. The map ends at the first
// entry whose type is zero. It returns the number of frames added.
func (a *Allocator) Populate(entries []MemoryMapEntry) int {
	added := 0

	for _, e := range entries {
		if e.Type == 0 {
			break
		}

		if e.Type != E820Usable {
			continue
		}

		start := e.Addr
		end := e.Addr + e.Length
		if start == 0 {
			start += vm.PageSize
		}

		end = min(end, uint64(a.storage.Capacity()))
		if end <= start {
			continue
		}

		added += a.addRange(start, end)
	}

	return added
}

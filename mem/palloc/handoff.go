package palloc

import "github.com/chronos-systems/vmsim/mem/vm"

// SaveState writes the free list head, the free page count, and the video
// mode to the low memory handoff area. The boot loader calls it right before
// jumping into the kernel.
func (a *Allocator) SaveState(videoMode uint32) {
	a.Lock()
	defer a.Unlock()

	a.mustWrite(vm.KVMPoolPtr, uint32(a.head))
	a.mustWrite(vm.KVMPageCount, uint32(a.count))
	a.mustWrite(vm.KVMVideoMode, videoMode)
}

// RestoreState picks up the free list from the handoff area.
func (a *Allocator) RestoreState() {
	a.Lock()
	defer a.Unlock()

	a.head = vm.Addr(a.mustRead(vm.KVMPoolPtr))
	a.count = int(a.mustRead(vm.KVMPageCount))
	a.videoMode = a.mustRead(vm.KVMVideoMode)
	a.startCount = a.count
}

func (a *Allocator) mustWrite(addr vm.Addr, v uint32) {
	if err := a.storage.WriteUint32(addr, v); err != nil {
		vm.Halt(a.name, "handoff write at %s: %v", addr, err)
	}
}

func (a *Allocator) mustRead(addr vm.Addr) uint32 {
	v, err := a.storage.ReadUint32(addr)
	if err != nil {
		vm.Halt(a.name, "handoff read at %s: %v", addr, err)
	}

	return v
}

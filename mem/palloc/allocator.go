// Package palloc implements the physical page frame allocator.
//
// Free frames are kept in a singly linked list whose nodes live inside the
// free frames themselves. Each node carries a tag that is verified whenever
// the node is popped.
package palloc

import (
	"fmt"
	"sync"

	"github.com/chronos-systems/vmsim/mem/physmem"
	"github.com/chronos-systems/vmsim/mem/vm"
	"github.com/chronos-systems/vmsim/sim/hooking"
)

// FreeTag marks a frame that is currently on the free list.
const FreeTag uint32 = 0x55AA55AA

// Hook positions fired by the allocator. The item is the frame.
var (
	HookPosFrameAlloc = &hooking.HookPos{Name: "FrameAlloc"}
	HookPosFrameFree  = &hooking.HookPos{Name: "FrameFree"}
)

// freeNode is the view of a free frame from the allocator.
type freeNode struct {
	next vm.Addr
	tag  uint32
}

// Allocator owns every physical frame that is not part of the kernel image,
// the boot loader, or the low memory handoff area.
type Allocator struct {
	hooking.HookableBase
	sync.Mutex

	name       string
	storage    *physmem.Storage
	ignore     []vm.Region
	head       vm.Addr
	count      int
	startCount int
	videoMode  uint32
}

// Name returns the name of the allocator.
func (a *Allocator) Name() string {
	return a.name
}

// FreeCount returns the number of frames on the free list.
func (a *Allocator) FreeCount() int {
	a.Lock()
	defer a.Unlock()

	return a.count
}

// StartCount returns the number of free frames when the kernel took over.
func (a *Allocator) StartCount() int {
	a.Lock()
	defer a.Unlock()

	return a.startCount
}

// VideoMode returns the video mode recorded by the boot loader.
func (a *Allocator) VideoMode() uint32 {
	return a.videoMode
}

// Alloc removes one frame from the free list and returns it zeroed. It halts
// when the list is empty or a node has been overwritten.
func (a *Allocator) Alloc() vm.Addr {
	frame := a.pop()

	a.InvokeHook(hooking.HookCtx{
		Domain: a,
		Pos:    HookPosFrameAlloc,
		Item:   frame,
	})

	return frame
}

func (a *Allocator) pop() vm.Addr {
	a.Lock()
	defer a.Unlock()

	if a.head == 0 {
		vm.Halt(a.name, "no more free pages")
	}

	frame := a.head
	node := a.readNode(frame)
	if node.tag != FreeTag {
		vm.Halt(a.name, "free list is corrupt at %s", frame)
	}

	if node.next != 0 && node.next < vm.PageSize {
		vm.Halt(a.name, "free list is corrupt: null link at %s", frame)
	}

	a.head = node.next
	a.count--

	if err := a.storage.ZeroPage(frame); err != nil {
		vm.Halt(a.name, "cannot clear %s: %v", frame, err)
	}

	return frame
}

// Free returns a frame to the free list. Freeing the null page halts.
func (a *Allocator) Free(frame vm.Addr) {
	frame = vm.PageRoundDown(frame)
	if frame == 0 {
		vm.Halt(a.name, "freed the null page")
	}

	a.push(frame)

	a.InvokeHook(hooking.HookCtx{
		Domain: a,
		Pos:    HookPosFrameFree,
		Item:   frame,
	})
}

func (a *Allocator) push(frame vm.Addr) {
	a.Lock()
	defer a.Unlock()

	a.writeNode(frame, freeNode{next: a.head, tag: FreeTag})
	a.head = frame
	a.count++
}

func (a *Allocator) readNode(frame vm.Addr) freeNode {
	next, err := a.storage.ReadUint32(frame)
	if err != nil {
		vm.Halt(a.name, "cannot read node %s: %v", frame, err)
	}

	tag, err := a.storage.ReadUint32(frame + 4)
	if err != nil {
		vm.Halt(a.name, "cannot read node %s: %v", frame, err)
	}

	return freeNode{next: vm.Addr(next), tag: tag}
}

func (a *Allocator) writeNode(frame vm.Addr, node freeNode) {
	err := a.storage.WriteUint32(frame, uint32(node.next))
	if err == nil {
		err = a.storage.WriteUint32(frame+4, node.tag)
	}

	if err != nil {
		vm.Halt(a.name, "cannot write node %s: %v", frame, err)
	}
}

// IsIgnored reports whether the frame is excluded from the pool.
func (a *Allocator) IsIgnored(frame vm.Addr) bool {
	for _, r := range a.ignore {
		if r.Contains(frame) {
			return true
		}
	}

	return false
}

// AddRange adds every whole page between start and end to the free list,
// except the ignored ones. It returns the number of frames added.
func (a *Allocator) AddRange(start, end vm.Addr) int {
	return a.addRange(uint64(start), uint64(end))
}

func (a *Allocator) addRange(start, end uint64) int {
	start = (start + vm.PageSize - 1) &^ (vm.PageSize - 1)
	end &^= vm.PageSize - 1

	if end < start+vm.PageSize {
		return 0
	}

	added := 0
	for pg := start; pg != end; pg += vm.PageSize {
		frame := vm.Addr(pg)
		if a.IsIgnored(frame) {
			continue
		}

		a.Free(frame)
		added++
	}

	return added
}

// Check walks the whole free list and verifies every node without halting.
func (a *Allocator) Check() error {
	a.Lock()
	defer a.Unlock()

	seen := 0
	for frame := a.head; frame != 0; seen++ {
		if seen > a.count {
			return fmt.Errorf("free list is longer than its count %d", a.count)
		}

		next, err := a.storage.ReadUint32(frame)
		if err != nil {
			return fmt.Errorf("reading node %s: %w", frame, err)
		}

		tag, err := a.storage.ReadUint32(frame + 4)
		if err != nil {
			return fmt.Errorf("reading node %s: %w", frame, err)
		}

		if tag != FreeTag {
			return fmt.Errorf("node %s has tag 0x%08x", frame, tag)
		}

		frame = vm.Addr(next)
	}

	if seen != a.count {
		return fmt.Errorf("free list holds %d frames, count is %d",
			seen, a.count)
	}

	return nil
}

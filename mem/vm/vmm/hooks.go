package vmm

import (
	"github.com/chronos-systems/vmsim/mem/vm"
	"github.com/chronos-systems/vmsim/sim/hooking"
)

// Hook positions fired by the manager.
var (
	// Item is the new vm.Dir. Detail is the parent vm.Dir, or zero.
	HookPosSpaceCreate = &hooking.HookPos{Name: "SpaceCreate"}
	// Item is the destroyed vm.Dir.
	HookPosSpaceDestroy = &hooking.HookPos{Name: "SpaceDestroy"}
	// Item is a MappingEvent.
	HookPosMap   = &hooking.HookPos{Name: "Map"}
	HookPosUnmap = &hooking.HookPos{Name: "Unmap"}
	// Item is a ShareEvent.
	HookPosShare   = &hooking.HookPos{Name: "Share"}
	HookPosUnshare = &hooking.HookPos{Name: "Unshare"}
	// Item is a MappingEvent for the new private frame. Detail is the old
	// shared frame.
	HookPosCOWBreak = &hooking.HookPos{Name: "COWBreak"}
	// Item is a MappingEvent for the lowest new stack page. Detail is the
	// number of pages added.
	HookPosStackGrow = &hooking.HookPos{Name: "StackGrow"}
)

// MappingEvent describes one page table entry that was written or cleared.
type MappingEvent struct {
	Dir   vm.Dir
	Virt  vm.Addr
	Frame vm.Addr
	Flags vm.Flags
}

// ShareEvent describes a change of a share count.
type ShareEvent struct {
	Frame vm.Addr
	Refs  int
}

package vm

// Kernel virtual memory map. Everything at or above UVMKernelStart is the
// kernel half and is inherited by every address space.
const (
	KVMDiskEnd   Addr = 0xFFFFF000 // end of disk caching space
	KVMDiskStart Addr = 0xFFA00000 // start of disk caching space
	KVMKernEnd   Addr = 0xFF9FFFFF // kernel binary ends
	KVMKernStart Addr = 0xFF000000 // kernel binary starts

	KVMKStackGuardTop    Addr = 0xFEFFF000 // kernel stack upper guard page
	KVMKStackEnd         Addr = 0xFEFFEFFF // top of the kernel stack
	KVMKStackStart       Addr = 0xFEFFA000 // bottom of the kernel stack
	KVMKStackGuardBottom Addr = 0xFEFF9000 // kernel stack lower guard page

	UVMKStackGuardTop    Addr = KVMKStackGuardBottom
	UVMKStackEnd         Addr = 0xFEFF8FFF // top of the per-process kernel stack
	UVMKStackStart       Addr = 0xFEFF4000 // bottom of the per-process kernel stack
	UVMKStackGuardBottom Addr = 0xFEFF3000

	SVMKStackGuardTop    Addr = 0xFEFF3000 // swap stack upper guard page
	SVMKStackEnd         Addr = 0xFEFF2FFF // swap stack end
	SVMKStackStart       Addr = 0xFEFEE000 // swap stack start
	SVMKStackGuardBottom Addr = 0xFEFED000 // swap stack lower guard page

	KVMKmallocEnd   Addr = 0xFEFFCFFF
	KVMKmallocStart Addr = 0xFDFF8000

	KVMHardwareEnd   Addr = 0xFDFF7FFF
	KVMHardwareStart Addr = 0xFD000000

	KVMBoot2End   Addr = 0x00019600 // end of the second stage boot loader
	KVMBoot2Start Addr = 0x00007E00 // start of the second stage boot loader

	KVMKernelDir Addr = 0x00001000 // the kernel page directory frame
	KVMVideoMode Addr = 0x00000958 // handoff: video mode
	KVMPageCount Addr = 0x00000954 // handoff: free pages in the pool
	KVMPoolPtr   Addr = 0x00000950 // handoff: head of the free list
)

// User address space map.
const (
	UVMKernelEnd   Addr = 0xFFFFFFFF // end of the kernel half
	UVMKernelStart Addr = 0xFD000000 // start of the kernel half
	UVMTop         Addr = 0xFCFFFFFF // top of user space
	UVMLoad        Addr = 0x00001000 // where user binaries are loaded

	UVMMinStack = 0x00A00000 // 10MB minimum stack size

	// StackTolerance is how many pages below the current stack end a fault
	// may land and still grow the stack.
	StackTolerance = 16
)

// SwapDistance is how far the swap stack window sits below the per-process
// kernel stack.
const SwapDistance = UVMKStackStart - SVMKStackStart

// Region is an inclusive range of addresses.
type Region struct {
	Start Addr
	End   Addr
}

// Contains returns true if a falls inside the region.
func (r Region) Contains(a Addr) bool {
	return a >= r.Start && a <= r.End
}

// Pages returns the page-aligned start of the region and the number of
// pages it touches.
func (r Region) Pages() (first Addr, count int) {
	first = PageRoundDown(r.Start)
	last := PageRoundDown(r.End)

	return first, int((last-first)/PageSize) + 1
}

// Well known regions.
var (
	KernelStack     = Region{KVMKStackStart, KVMKStackEnd}
	ProcKernelStack = Region{UVMKStackStart, UVMKStackEnd}
	SwapStack       = Region{SVMKStackStart, SVMKStackEnd}
	KernelHalf      = Region{UVMKernelStart, UVMKernelEnd}
)

// IsPerProcess reports whether a kernel-half address belongs to a region that
// every address space holds privately instead of inheriting.
func IsPerProcess(a Addr) bool {
	return ProcKernelStack.Contains(a) || SwapStack.Contains(a)
}

package machine

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/chronos-systems/vmsim/mem/palloc"
	"github.com/chronos-systems/vmsim/mem/vm"
	"github.com/chronos-systems/vmsim/sim/hooking"
)

var _ = Describe("MemoryMap", func() {
	It("should end with a zero entry", func() {
		mm := MemoryMap(64 << 20)

		Expect(mm[len(mm)-1].Type).To(BeZero())
		Expect(mm[len(mm)-2]).To(Equal(palloc.MemoryMapEntry{
			Addr:   0x100000,
			Length: 63 << 20,
			Type:   palloc.E820Usable,
		}))
	})
})

var _ = Describe("Boot", func() {
	var (
		m     *Machine
		kdir  vm.Dir
		freed int
	)

	BeforeEach(func() {
		freed = 0
		counter := hooking.HookFunc(func(ctx hooking.HookCtx) {
			if ctx.Pos == palloc.HookPosFrameFree {
				freed++
			}
		})

		var err error
		m, err = MakeBuilder().
			WithMemory(16 << 20).
			WithVideoMode(7).
			WithHook(counter).
			Build("M")
		Expect(err).NotTo(HaveOccurred())

		kdir = m.KernelDir()
	})

	It("should hand the free list over to the kernel", func() {
		Expect(m.Frames().StartCount()).To(BeNumerically(">", 3000))
		Expect(m.Frames().VideoMode()).To(Equal(uint32(7)))
		Expect(m.CheckFreeList()).To(Succeed())
	})

	It("should return the boot loader pages except the first", func() {
		Expect(freed).To(Equal(18))

		// five kernel stack pages and their table were allocated
		Expect(m.Frames().FreeCount()).
			To(Equal(m.Frames().StartCount() - 6 + 18))
	})

	It("should leave paging on with the kernel directory loaded", func() {
		Expect(m.CPU().PagingEnabled()).To(BeTrue())
		Expect(m.CPU().ActiveDirectory()).To(Equal(kdir))
		Expect(kdir).To(Equal(vm.Dir(vm.KVMKernelDir)))
		Expect(m.CPU().StackPointer()).To(Equal(vm.KVMKStackEnd &^ 0xF))
		Expect(m.CPU().CLIDepth()).To(BeZero())
	})

	It("should unmap the null page and keep the loader mapped", func() {
		v := m.VMM()

		Expect(v.FindPage(0, false, kdir, 0, 0)).To(BeZero())
		Expect(v.FindPage(vm.KVMBoot2Start, false, kdir, 0, 0)).
			To(Equal(vm.PageRoundDown(vm.KVMBoot2Start)))
	})

	It("should map the kernel image with read-only text", func() {
		v := m.VMM()

		text := v.PageFlags(vm.KVMKernStart, kdir)
		Expect(text.Has(vm.FlagPresent)).To(BeTrue())
		Expect(text.Has(vm.FlagWrite)).To(BeFalse())

		data := v.PageFlags(vm.KVMKernStart+2*vm.PageSize, kdir)
		Expect(data.Has(vm.FlagWrite)).To(BeTrue())

		Expect(v.PageFlags(vm.KVMKernStart+4*vm.PageSize, kdir)).To(BeZero())
	})

	It("should map the kernel stack", func() {
		first, count := vm.KernelStack.Pages()
		for i := 0; i < count; i++ {
			va := first + vm.Addr(i)*vm.PageSize
			Expect(m.VMM().FindPage(va, false, kdir, 0, 0)).NotTo(BeZero())
		}
	})
})

var _ = Describe("Builder", func() {
	It("should refuse a kernel image larger than its region", func() {
		Expect(func() {
			_, _ = MakeBuilder().WithKernelImage(0x1000, 1).Build("M")
		}).To(Panic())
	})

	It("should refuse text larger than the image", func() {
		Expect(func() {
			_, _ = MakeBuilder().WithKernelImage(2, 3).Build("M")
		}).To(Panic())
	})

	It("should refuse tiny memories", func() {
		Expect(func() {
			_, _ = MakeBuilder().WithMemory(1 << 20).Build("M")
		}).To(Panic())
	})
})
